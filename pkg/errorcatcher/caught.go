// Package errorcatcher records errors raised at runtime and replays them
// later through interchangeable backends: an in-memory ring, the log and an
// external document store. Several backends compose with Composite.
package errorcatcher

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// maxDepth bounds cause chains; a self-wrapping error must not loop forever.
const maxDepth = 32

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Throwable is the structured form of an error and its causes.
type Throwable struct {
	ClassName  string       `json:"className"`
	Message    string       `json:"message"`
	StackTrace []string     `json:"stackTrace,omitempty"`
	Cause      *Throwable   `json:"cause,omitempty"`
	Joined     []*Throwable `json:"joined,omitempty"`
}

// CaughtError is one recorded occurrence. It is not modified after creation.
type CaughtError struct {
	// Timestamp in epoch milliseconds.
	Timestamp int64
	Throwable *Throwable
	Tags      map[string]string
}

// NewCaughtError captures err at time at. tags are copied.
func NewCaughtError(err error, tags map[string]string, at time.Time) CaughtError {
	return CaughtError{
		Timestamp: at.UnixMilli(),
		Throwable: NewThrowable(err),
		Tags:      copyTags(tags),
	}
}

func (c CaughtError) ClassName() string {
	if c.Throwable == nil {
		return ""
	}
	return c.Throwable.ClassName
}

func (c CaughtError) Message() string {
	if c.Throwable == nil {
		return ""
	}
	return c.Throwable.Message
}

// Time returns the timestamp as a time.Time.
func (c CaughtError) Time() time.Time { return time.UnixMilli(c.Timestamp) }

// NewThrowable walks err and its causes. Stack-only wrappers added by
// github.com/pkg/errors are folded into the error they wrap, so class names
// reflect the errors the application raised.
func NewThrowable(err error) *Throwable {
	return newThrowable(err, 0)
}

func newThrowable(err error, depth int) *Throwable {
	if err == nil || depth >= maxDepth {
		return nil
	}

	var frames []string
	for {
		st, ok := err.(stackTracer)
		if !ok {
			break
		}
		if frames == nil {
			frames = formatFrames(st.StackTrace())
		}
		inner := errors.Unwrap(err)
		if inner == nil || inner.Error() != err.Error() {
			break
		}
		err = inner
	}

	t := &Throwable{
		ClassName:  fmt.Sprintf("%T", err),
		Message:    err.Error(),
		StackTrace: frames,
	}
	if st, ok := err.(stackTracer); ok && t.StackTrace == nil {
		t.StackTrace = formatFrames(st.StackTrace())
	}

	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if j := newThrowable(e, depth+1); j != nil {
				t.Joined = append(t.Joined, j)
			}
		}
	case interface{ Unwrap() error }:
		t.Cause = newThrowable(u.Unwrap(), depth+1)
	}
	return t
}

func formatFrames(st pkgerrors.StackTrace) []string {
	out := make([]string, 0, len(st))
	for _, f := range st {
		out = append(out, fmt.Sprintf("%+s:%d", f, f))
	}
	return out
}

// CauseClassNames lists the class names from the error down its cause chain.
func (t *Throwable) CauseClassNames() []string {
	var out []string
	for c := t; c != nil; c = c.Cause {
		out = append(out, c.ClassName)
	}
	return out
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
