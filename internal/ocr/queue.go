package ocr

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueEmpty is returned by Queue when no canned response is left.
var ErrQueueEmpty = errors.New("no queued ocr response")

// Queue is an in-memory backend that returns canned responses in FIFO
// order. It records every image it was called with.
type Queue struct {
	mu        sync.Mutex
	responses []queued
	calls     []Image
}

type queued struct {
	resp *Response
	err  error
}

// NewQueue returns a Queue preloaded with responses.
func NewQueue(responses ...*Response) *Queue {
	q := &Queue{}
	for _, r := range responses {
		q.Push(r)
	}
	return q
}

// Push appends a response.
func (q *Queue) Push(resp *Response) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.responses = append(q.responses, queued{resp: resp})
}

// PushError appends a failing call.
func (q *Queue) PushError(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.responses = append(q.responses, queued{err: err})
}

// Annotate pops the next response.
func (q *Queue) Annotate(ctx context.Context, img Image) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, img)
	if len(q.responses) == 0 {
		return nil, &BackendError{Backend: "queue", Err: ErrQueueEmpty}
	}
	next := q.responses[0]
	q.responses = q.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.resp, nil
}

// Calls returns the images passed to Annotate so far.
func (q *Queue) Calls() []Image {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Image, len(q.calls))
	copy(out, q.calls)
	return out
}

// Len returns the number of responses left.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.responses)
}
