// Package queue moves recognition requests through Redis with asynq.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TypeRecognize is the task type of a recognition request.
const TypeRecognize = "docrec:recognize"

// RecognizePayload is the task body. Image carries the encoded photo;
// Path is used when the worker shares a filesystem with the producer.
type RecognizePayload struct {
	JobID    string `json:"job_id"`
	Template string `json:"template"`
	Path     string `json:"path,omitempty"`
	Image    []byte `json:"image,omitempty"`
}

// Validate checks that the payload names a template and a photo.
func (p RecognizePayload) Validate() error {
	if p.Template == "" {
		return fmt.Errorf("template is required")
	}
	if p.Path == "" && len(p.Image) == 0 {
		return fmt.Errorf("image or path is required")
	}
	return nil
}

// NewRecognizeTask encodes p into a task.
func NewRecognizeTask(p RecognizePayload, opts ...asynq.Option) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeRecognize, data, opts...), nil
}

// ParseRecognizeTask decodes the payload of t.
func ParseRecognizeTask(t *asynq.Task) (RecognizePayload, error) {
	var p RecognizePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, p.Validate()
}
