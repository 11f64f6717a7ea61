package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// CodeInternal is the exception code used for errors that carry no code of their own.
const CodeInternal = "internal"

// Exception is a captured failure of one Job invocation.
type Exception struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Origin     string    `json:"origin"`
	Stack      string    `json:"stack"`
	RecordedAt time.Time `json:"recorded_at"`
}

type coder interface {
	Code() string
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// NewException builds an Exception from err. The origin and stack come from the
// outermost github.com/pkg/errors stack in the chain, or from the recording
// site when err carries none.
func NewException(err error) Exception {
	ex := Exception{
		Code:       CodeInternal,
		Message:    err.Error(),
		RecordedAt: time.Now().UTC(),
	}

	var c coder
	if errors.As(err, &c) && c.Code() != "" {
		ex.Code = c.Code()
	}

	var trace pkgerrors.StackTrace
	var tracer stackTracer
	if errors.As(err, &tracer) {
		trace = tracer.StackTrace()
	} else {
		// drop the NewException frame itself
		trace = pkgerrors.WithStack(err).(stackTracer).StackTrace()
		if len(trace) > 1 {
			trace = trace[1:]
		}
	}

	if len(trace) > 0 {
		ex.Origin = fmt.Sprintf("%n (%s:%d)", trace[0], trace[0], trace[0])
		ex.Stack = strings.TrimSpace(fmt.Sprintf("%+v", trace))
	}

	return ex
}

// String renders the exception on one line.
func (e Exception) String() string {
	if e.Origin == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s at %s", e.Code, e.Message, e.Origin)
}
