package errorcatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/logger"
)

var (
	// ErrStoreWrite wraps a failed write or commit. The error was not recorded.
	ErrStoreWrite = errors.New("error store write failed")

	// ErrStoreRead wraps a failed query.
	ErrStoreRead = errors.New("error store read failed")

	// ErrPartialResult is matched by a *PartialResultError.
	ErrPartialResult = errors.New("partial result")
)

// Document is one stored record.
type Document struct {
	Key  string
	Data []byte
}

// DocumentStore is the external store behind StoreCatcher.
type DocumentStore interface {
	Store(ctx context.Context, doc Document) error
	// Commit makes previous writes durable.
	Commit(ctx context.Context) error
	QueryAll(ctx context.Context) ([]Document, error)
	Count(ctx context.Context) (int, error)
}

// PartialResultError reports documents skipped by List because they could
// not be decoded. The returned list is still usable.
type PartialResultError struct {
	Skipped []string
	Err     error
}

func (e *PartialResultError) Error() string {
	return fmt.Sprintf("%d stored errors skipped (%s): %v", len(e.Skipped), strings.Join(e.Skipped, ", "), e.Err)
}

func (e *PartialResultError) Is(target error) bool { return target == ErrPartialResult }

func (e *PartialResultError) Unwrap() error { return e.Err }

// StoreOption configures a StoreCatcher.
type StoreOption func(*StoreCatcher)

func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *StoreCatcher) { s.logger = l }
}

// StoreCatcher encodes caught errors into a DocumentStore.
type StoreCatcher struct {
	store  DocumentStore
	logger *zap.Logger
}

func NewStoreCatcher(store DocumentStore, opts ...StoreOption) *StoreCatcher {
	s := &StoreCatcher{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("errorcatcher")
	}
	return s
}

func (s *StoreCatcher) Name() string { return BackendStore }

// DocumentKey orders documents by timestamp; the uuid keeps keys of the same
// millisecond apart.
func DocumentKey(c CaughtError) string {
	return fmt.Sprintf("%013d.%s", c.Timestamp, uuid.NewString())
}

// Record writes and commits c. Any failure is returned wrapped in ErrStoreWrite.
func (s *StoreCatcher) Record(ctx context.Context, c CaughtError) error {
	data, err := Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	if err := s.store.Store(ctx, Document{Key: DocumentKey(c), Data: data}); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	if err := s.store.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStoreWrite, err)
	}
	return nil
}

// List returns every decodable document ordered by timestamp, then key.
// Undecodable documents are skipped and reported with a *PartialResultError
// next to the decoded ones.
func (s *StoreCatcher) List(ctx context.Context) ([]CaughtError, error) {
	docs, err := s.store.QueryAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}

	type keyed struct {
		key string
		c   CaughtError
	}
	decoded := make([]keyed, 0, len(docs))
	var partial *PartialResultError
	for _, d := range docs {
		c, err := Unmarshal(d.Data)
		if err != nil {
			if partial == nil {
				partial = &PartialResultError{}
			}
			partial.Skipped = append(partial.Skipped, d.Key)
			partial.Err = errors.Join(partial.Err, fmt.Errorf("%s: %w", d.Key, err))
			s.logger.Warn("skipping undecodable stored error", zap.String("key", d.Key), zap.Error(err))
			continue
		}
		decoded = append(decoded, keyed{key: d.Key, c: c})
	}

	sort.SliceStable(decoded, func(i, j int) bool {
		if decoded[i].c.Timestamp != decoded[j].c.Timestamp {
			return decoded[i].c.Timestamp < decoded[j].c.Timestamp
		}
		return decoded[i].key < decoded[j].key
	})
	out := make([]CaughtError, 0, len(decoded))
	for _, k := range decoded {
		out = append(out, k.c)
	}
	if partial != nil {
		return out, partial
	}
	return out, nil
}

func (s *StoreCatcher) Count(ctx context.Context) (int, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	return n, nil
}
