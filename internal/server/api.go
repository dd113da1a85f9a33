package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stats-agent/pkg/errorcatcher"
	"github.com/stats-agent/pkg/producers"
)

type valueView struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

type producerView struct {
	producers.Identity
	Kind    string      `json:"kind"`
	Sampled bool        `json:"sampled"`
	Values  []valueView `json:"values"`
}

type errorView struct {
	Timestamp int64                   `json:"timestamp"`
	Time      time.Time               `json:"time"`
	ClassName string                  `json:"className"`
	Message   string                  `json:"message"`
	Tags      map[string]string       `json:"tags"`
	Throwable *errorcatcher.Throwable `json:"throwable,omitempty"`
}

type errorsView struct {
	Catcher string      `json:"catcher"`
	Count   int         `json:"count"`
	Partial bool        `json:"partial"`
	Skipped []string    `json:"skipped,omitempty"`
	Errors  []errorView `json:"errors"`
}

func newProducerView(p producers.Producer) producerView {
	v := producerView{Identity: p.Identity(), Values: []valueView{}}
	snap := p.Snapshot()
	if snap == nil {
		return v
	}
	v.Kind = snap.Kind()
	if v.Sampled = producers.Sampled(snap); !v.Sampled {
		return v
	}
	for _, val := range snap.Values() {
		v.Values = append(v.Values, valueView{Name: val.Name, Type: val.Type.String(), Value: val.Value})
	}
	return v
}

// listProducers serves every producer, optionally filtered by ?category= and ?subsystem=.
func (s *HTTPServer) listProducers(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	subsystem := r.URL.Query().Get("subsystem")

	var list []producers.Producer
	switch {
	case category != "":
		list = s.deps.Producers.ProducersByCategory(category)
	case subsystem != "":
		list = s.deps.Producers.ProducersBySubsystem(subsystem)
	default:
		list = s.deps.Producers.Producers()
	}

	out := []producerView{}
	for _, p := range list {
		if subsystem != "" && p.Identity().Subsystem != subsystem {
			continue
		}
		out = append(out, newProducerView(p))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) getProducer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.deps.Producers.GetProducerByID(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "producer not found: "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, newProducerView(p))
}

func (s *HTTPServer) listErrors(w http.ResponseWriter, r *http.Request) {
	if s.deps.Errors == nil {
		s.writeError(w, http.StatusNotFound, "error capture disabled")
		return
	}
	ctx := r.Context()
	out := errorsView{Catcher: s.deps.Errors.Name(), Errors: []errorView{}}

	list, err := s.deps.Errors.List(ctx)
	var partial *errorcatcher.PartialResultError
	switch {
	case errors.As(err, &partial):
		out.Partial = true
		out.Skipped = partial.Skipped
	case err != nil:
		s.logger.Error("list caught errors", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	count, err := s.deps.Errors.Count(ctx)
	if err != nil {
		s.logger.Error("count caught errors", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	out.Count = count

	for _, c := range list {
		out.Errors = append(out.Errors, errorView{
			Timestamp: c.Timestamp,
			Time:      c.Time().UTC(),
			ClassName: c.ClassName(),
			Message:   c.Message(),
			Tags:      c.Tags,
			Throwable: c.Throwable,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
