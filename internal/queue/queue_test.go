package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docrec/internal/align"
	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/service"
	"github.com/MeKo-Tech/docrec/internal/store"
	"github.com/MeKo-Tech/docrec/internal/template"
	"github.com/MeKo-Tech/docrec/internal/testutil"
	"github.com/MeKo-Tech/docrec/internal/utils"
)

type fixedAligner struct{ err error }

func (a fixedAligner) Align(_ context.Context, _ image.Image, tpl *template.Template) (*align.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &align.Result{Image: image.NewNRGBA(image.Rect(0, 0, tpl.Size.Width, tpl.Size.Height)), Homography: align.Identity()}, nil
}

func newHandler(t *testing.T, a align.Aligner, backend ocr.Backend) (*Handler, *store.Memory) {
	t.Helper()
	tpl, err := template.New("doc", "unused.png", template.Size{Width: 40, Height: 40},
		[]template.Region{{Name: "number", Type: template.FieldInteger, Box: utils.NewBox(0, 0, 40, 40)}})
	require.NoError(t, err)
	reg := template.NewRegistry()
	require.NoError(t, reg.Add(tpl))
	p, err := pipeline.NewBuilder().WithAligner(a).WithOCR(backend).Build()
	require.NoError(t, err)
	mem := store.NewMemory()
	return &Handler{Service: &service.Service{Runner: p, Templates: reg, Store: mem}}, mem
}

func photoBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.CreateTestImage(20, 20, color.White)))
	return buf.Bytes()
}

func numberResponse() *ocr.Response {
	return &ocr.Response{Annotations: []ocr.TextAnnotation{{
		Text:     "123456",
		Vertices: []utils.Point{{X: 2, Y: 2}, {X: 30, Y: 2}, {X: 30, Y: 10}, {X: 2, Y: 10}},
	}}}
}

func TestTaskRoundTrip(t *testing.T) {
	in := RecognizePayload{JobID: "j-1", Template: "doc", Image: []byte{1, 2, 3}}
	task, err := NewRecognizeTask(in)
	require.NoError(t, err)
	assert.Equal(t, TypeRecognize, task.Type())

	out, err := ParseRecognizeTask(task)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTaskValidation(t *testing.T) {
	_, err := NewRecognizeTask(RecognizePayload{Image: []byte{1}})
	assert.Error(t, err)
	_, err = NewRecognizeTask(RecognizePayload{Template: "doc"})
	assert.Error(t, err)

	_, err = ParseRecognizeTask(asynq.NewTask(TypeRecognize, []byte("{")))
	assert.Error(t, err)
}

func TestHandlerProcessesAndStores(t *testing.T) {
	q := ocr.NewQueue(numberResponse())
	h, mem := newHandler(t, fixedAligner{}, q)

	task, err := NewRecognizeTask(RecognizePayload{JobID: "j-1", Template: "doc", Image: photoBytes(t)})
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	entries, err := mem.List(context.Background(), "doc", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "j-1", entries[0].JobID)
	assert.JSONEq(t, `{"number":123456}`, string(entries[0].Fields))
}

func TestHandlerSkipsRetryForPermanentFailures(t *testing.T) {
	photo := photoBytes(t)
	cases := map[string]struct {
		aligner align.Aligner
		payload RecognizePayload
	}{
		"bad payload":       {fixedAligner{}, RecognizePayload{}},
		"unknown template":  {fixedAligner{}, RecognizePayload{Template: "missing", Image: photo}},
		"undecodable photo": {fixedAligner{}, RecognizePayload{Template: "doc", Image: []byte("not an image")}},
		"alignment": {
			fixedAligner{err: &align.AlignmentError{Template: "doc", Reason: "too few matches"}},
			RecognizePayload{Template: "doc", Image: photo},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h, _ := newHandler(t, tc.aligner, ocr.NewQueue(numberResponse()))
			data, err := json.Marshal(tc.payload)
			require.NoError(t, err)
			err = h.ProcessTask(context.Background(), asynq.NewTask(TypeRecognize, data))
			require.Error(t, err)
			assert.ErrorIs(t, err, asynq.SkipRetry)
		})
	}
}

func TestHandlerRetriesOCRFailures(t *testing.T) {
	q := ocr.NewQueue()
	q.PushError(&ocr.BackendError{Backend: "vision", Err: errors.New("deadline exceeded")})
	h, _ := newHandler(t, fixedAligner{}, q)

	task, err := NewRecognizeTask(RecognizePayload{Template: "doc", Image: photoBytes(t)})
	require.NoError(t, err)
	err = h.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, ocr.ErrOCR)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	_, err := cfg.redisOpt()
	require.NoError(t, err)
	assert.Len(t, cfg.taskOptions("id"), 5)

	bad := cfg
	bad.Concurrency = 0
	assert.Error(t, bad.Validate())
	bad = cfg
	bad.RedisURL = ""
	assert.Error(t, bad.Validate())
	bad = cfg
	bad.RedisURL = "http://nope"
	_, err = bad.redisOpt()
	assert.Error(t, err)

	_, err = NewWorker(cfg, nil)
	assert.Error(t, err)
	_, err = NewClient(bad)
	assert.Error(t, err)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(0, nil, nil))
	assert.Equal(t, 20*time.Second, retryDelay(2, nil, nil))
	assert.Equal(t, time.Minute, retryDelay(10, nil, nil))
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	a := slogAdapter{slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	a.Info("worker ", "started")
	a.Warn("slow")
	assert.Contains(t, buf.String(), "worker started")
	assert.Contains(t, buf.String(), "level=WARN")
}
