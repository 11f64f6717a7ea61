package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cuongbtq/dirsync/internal/job"
)

const kindStep = "test.step"

// stepBehavior needs Steps invocations to finish, or fails every time
type stepBehavior struct {
	job.RetryAlways

	Steps int  `json:"steps"`
	Fail  bool `json:"fail,omitempty"`
}

func (b *stepBehavior) Kind() string { return kindStep }

func (b *stepBehavior) String() string { return fmt.Sprintf("step %d", b.Steps) }

func (b *stepBehavior) Execute(_ context.Context, j *job.Job) (bool, error) {
	if b.Fail {
		return false, errors.New("boom")
	}
	b.Steps--
	j.RecordMessage("%d steps left", b.Steps)
	return b.Steps > 0, nil
}

func testRegistry() *job.Registry {
	reg := job.NewRegistry()
	reg.Register(kindStep, func(payload json.RawMessage) (job.Behavior, error) {
		b := &stepBehavior{}
		if err := json.Unmarshal(payload, b); err != nil {
			return nil, err
		}
		return b, nil
	})
	return reg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	bodies []string
	err    error
}

func (p *recordingPublisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, string(body))
	return nil
}
