package producers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNilProducer is returned when registering a nil producer.
	ErrNilProducer = errors.New("producer cannot be nil")

	// ErrEmptyProducerID is returned when a producer identity has no id.
	ErrEmptyProducerID = errors.New("producer id cannot be empty")

	// ErrDuplicateProducer is returned when the id is already registered.
	ErrDuplicateProducer = errors.New("producer already registered")
)

// Registry is the directory of live producers keyed by id. It is safe for use
// by any number of goroutines.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]Producer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{producers: make(map[string]Producer)}
}

// Register adds a producer. The id must not be in use.
func (r *Registry) Register(p Producer) error {
	if p == nil {
		return ErrNilProducer
	}
	id := p.Identity().ID
	if id == "" {
		return ErrEmptyProducerID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.producers[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProducer, id)
	}
	r.producers[id] = p
	return nil
}

// Unregister removes p if it is the producer currently registered under its
// id. A producer that was already replaced by another owner is left alone.
func (r *Registry) Unregister(p Producer) bool {
	if p == nil {
		return false
	}
	id := p.Identity().ID

	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.producers[id]
	if !ok || current != p {
		return false
	}
	delete(r.producers, id)
	return true
}

// GetProducerByID looks up a producer.
func (r *Registry) GetProducerByID(id string) (Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

// Producers returns all producers sorted by id.
func (r *Registry) Producers() []Producer {
	return r.filter(func(Producer) bool { return true })
}

// ProducersByCategory returns the producers of one category sorted by id.
func (r *Registry) ProducersByCategory(category string) []Producer {
	return r.filter(func(p Producer) bool { return p.Identity().Category == category })
}

// ProducersBySubsystem returns the producers of one subsystem sorted by id.
func (r *Registry) ProducersBySubsystem(subsystem string) []Producer {
	return r.filter(func(p Producer) bool { return p.Identity().Subsystem == subsystem })
}

// Len returns the number of registered producers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers)
}

func (r *Registry) filter(keep func(Producer) bool) []Producer {
	r.mu.RLock()
	out := make([]Producer, 0, len(r.producers))
	for _, p := range r.producers {
		if keep(p) {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity().ID < out[j].Identity().ID
	})
	return out
}
