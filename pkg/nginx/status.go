package nginx

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedInput marks status text that does not follow the stub_status layout.
var ErrMalformedInput = errors.New("malformed status input")

// ParseError carries the line that broke the parse. An empty Line means a
// required line was never seen.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("%s: %s", ErrMalformedInput, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %q", ErrMalformedInput, e.Reason, e.Line)
}

// Is reports ErrMalformedInput so callers can use errors.Is.
func (e *ParseError) Is(target error) bool { return target == ErrMalformedInput }

// Status is one parsed stub_status page.
type Status struct {
	Active   uint64
	Accepted uint64
	Handled  uint64
	Requests uint64
	Reading  uint64
	Writing  uint64
	Waiting  uint64
}

const (
	activePrefix = "Active connections:"
	headerLine   = "server accepts handled requests"
)

// ParseStatus parses the nginx stub_status text:
//
//	Active connections: 291
//	server accepts handled requests
//	 16630948 16630948 31070465
//	Reading: 6 Writing: 179 Waiting: 106
//
// The first two lines are optional. The counter line and the Reading line are
// required; when the active line is missing, active is reading+writing+waiting.
func ParseStatus(text string) (Status, error) {
	var st Status
	var sawActive, sawHeader, sawCounters, sawConnState bool

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if sawConnState {
			return Status{}, &ParseError{Line: line, Reason: "unexpected trailing line"}
		}

		switch {
		case strings.HasPrefix(line, activePrefix):
			if sawActive || sawHeader || sawCounters {
				return Status{}, &ParseError{Line: line, Reason: "active connections out of order"}
			}
			n, err := parseUint(strings.TrimSpace(strings.TrimPrefix(line, activePrefix)))
			if err != nil {
				return Status{}, &ParseError{Line: line, Reason: "active connections is not a number"}
			}
			st.Active = n
			sawActive = true

		case strings.Join(strings.Fields(line), " ") == headerLine:
			if sawHeader || sawCounters {
				return Status{}, &ParseError{Line: line, Reason: "header out of order"}
			}
			sawHeader = true

		case strings.HasPrefix(line, "Reading:"):
			if !sawCounters {
				return Status{}, &ParseError{Line: line, Reason: "connection states before counters"}
			}
			r, w, wt, err := parseConnState(line)
			if err != nil {
				return Status{}, err
			}
			st.Reading, st.Writing, st.Waiting = r, w, wt
			sawConnState = true

		default:
			if sawCounters {
				return Status{}, &ParseError{Line: line, Reason: "unexpected line"}
			}
			a, h, r, err := parseCounters(line)
			if err != nil {
				return Status{}, err
			}
			st.Accepted, st.Handled, st.Requests = a, h, r
			sawCounters = true
		}
	}
	if err := sc.Err(); err != nil {
		return Status{}, &ParseError{Reason: err.Error()}
	}

	if !sawCounters {
		return Status{}, &ParseError{Reason: "missing accepts/handled/requests line"}
	}
	if !sawConnState {
		return Status{}, &ParseError{Reason: "missing Reading/Writing/Waiting line"}
	}
	if !sawActive {
		st.Active = st.Reading + st.Writing + st.Waiting
	}
	return st, nil
}

func parseCounters(line string) (accepted, handled, requests uint64, err error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return 0, 0, 0, &ParseError{Line: line, Reason: fmt.Sprintf("expected 3 counters, got %d fields", len(fields))}
	}
	var v [3]uint64
	for i, f := range fields {
		if v[i], err = parseUint(f); err != nil {
			return 0, 0, 0, &ParseError{Line: line, Reason: fmt.Sprintf("counter %d is not a number", i+1)}
		}
	}
	return v[0], v[1], v[2], nil
}

// parseConnState reads exactly "Reading: n Writing: n Waiting: n".
func parseConnState(line string) (reading, writing, waiting uint64, err error) {
	fields := strings.Fields(line)
	labels := [3]string{"Reading:", "Writing:", "Waiting:"}
	if len(fields) != 6 {
		return 0, 0, 0, &ParseError{Line: line, Reason: "expected Reading: n Writing: n Waiting: n"}
	}
	var v [3]uint64
	for i, label := range labels {
		if fields[2*i] != label {
			return 0, 0, 0, &ParseError{Line: line, Reason: "missing " + strings.TrimSuffix(label, ":")}
		}
		if v[i], err = parseUint(fields[2*i+1]); err != nil {
			return 0, 0, 0, &ParseError{Line: line, Reason: strings.TrimSuffix(label, ":") + " is not a number"}
		}
	}
	return v[0], v[1], v[2], nil
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
