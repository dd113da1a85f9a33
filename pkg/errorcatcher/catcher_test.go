package errorcatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stats-agent/pkg/config"
)

// memStore is a DocumentStore kept in a map.
type memStore struct {
	mu        sync.Mutex
	docs      map[string][]byte
	failWrite error
	failRead  error
	commits   int
}

func newMemStore() *memStore { return &memStore{docs: map[string][]byte{}} }

func (s *memStore) Store(_ context.Context, d Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	s.docs[d.Key] = d.Data
	return nil
}

func (s *memStore) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	return nil
}

func (s *memStore) QueryAll(context.Context) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRead != nil {
		return nil, s.failRead
	}
	out := make([]Document, 0, len(s.docs))
	for k, v := range s.docs {
		out = append(out, Document{Key: k, Data: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	return out, nil
}

func (s *memStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRead != nil {
		return 0, s.failRead
	}
	return len(s.docs), nil
}

func caught(msg string, ts int64) CaughtError {
	c := NewCaughtError(errors.New(msg), map[string]string{"n": msg}, caughtAt)
	c.Timestamp = ts
	return c
}

func TestMemoryCatcherCountsSequentialAdds(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCatcher(0)
	for i := 0; i < 25; i++ {
		require.NoError(t, m.Record(ctx, caught(fmt.Sprint(i), int64(i))))
	}
	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 25)
	assert.Equal(t, "0", list[0].Message())
	assert.Equal(t, "24", list[24].Message())
}

func TestMemoryCatcherConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCatcher(0)
	const workers, perWorker = 16, 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = m.Record(ctx, caught(fmt.Sprintf("%d-%d", w, i), int64(i)))
			}
		}(w)
	}
	wg.Wait()

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, n)
	assert.Equal(t, workers*perWorker, m.Len())
}

func TestMemoryCatcherRingKeepsNewest(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCatcher(3)
	for i := 0; i < 7; i++ {
		require.NoError(t, m.Record(ctx, caught(fmt.Sprint(i), int64(i))))
	}
	list, _ := m.List(ctx)
	var got []string
	for _, c := range list {
		got = append(got, c.Message())
	}
	assert.Equal(t, []string{"4", "5", "6"}, got)

	n, _ := m.Count(ctx)
	assert.Equal(t, 7, n, "count includes evicted errors")
}

func TestLogCatcherWritesErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogCatcher(zap.New(core))

	require.NoError(t, l.Record(context.Background(), caught("disk full", 1)))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "disk full", entry.Message)
	assert.Equal(t, "*errors.errorString", entry.ContextMap()["class"])

	n, _ := l.Count(context.Background())
	assert.Equal(t, 1, n)
	list, _ := l.List(context.Background())
	assert.Empty(t, list)
}

func TestStoreCatcherRoundTripOrdered(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	s := NewStoreCatcher(store, WithStoreLogger(zap.NewNop()))

	require.NoError(t, s.Record(ctx, caught("late", 300)))
	require.NoError(t, s.Record(ctx, caught("early", 100)))
	require.NoError(t, s.Record(ctx, caught("middle", 200)))
	assert.Equal(t, 3, store.commits)

	list, err := s.List(ctx)
	require.NoError(t, err)
	var got []string
	for _, c := range list {
		got = append(got, c.Message())
	}
	assert.Equal(t, []string{"early", "middle", "late"}, got)
	assert.Equal(t, map[string]string{"n": "early"}, list[0].Tags)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStoreCatcherSkipsMalformedDocuments(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	s := NewStoreCatcher(store, WithStoreLogger(zap.NewNop()))
	require.NoError(t, s.Record(ctx, caught("ok", 1)))
	store.docs["0000000000002.broken"] = []byte(`{"timestamp":`)

	list, err := s.List(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialResult)
	assert.ErrorIs(t, err, ErrDecode)

	var partial *PartialResultError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []string{"0000000000002.broken"}, partial.Skipped)
	require.Len(t, list, 1, "decodable documents are still returned")
	assert.Equal(t, "ok", list[0].Message())
}

func TestStoreCatcherSurfacesStoreFailures(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	s := NewStoreCatcher(store, WithStoreLogger(zap.NewNop()))

	store.failWrite = errors.New("no responders")
	err := s.Record(ctx, caught("lost?", 1))
	assert.ErrorIs(t, err, ErrStoreWrite)
	assert.Zero(t, store.commits)

	store.failRead = errors.New("timeout")
	_, err = s.List(ctx)
	assert.ErrorIs(t, err, ErrStoreRead)
	_, err = s.Count(ctx)
	assert.ErrorIs(t, err, ErrStoreRead)
}

func TestCompositeFansOutAndListsFromPrimary(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryCatcher(0)
	store := newMemStore()
	c := NewComposite(primary, NewStoreCatcher(store, WithStoreLogger(zap.NewNop())))
	assert.Equal(t, "memory+store", c.Name())

	require.NoError(t, c.Record(ctx, caught("a", 1)))
	assert.Len(t, store.docs, 1)

	store.failWrite = errors.New("down")
	err := c.Record(ctx, caught("b", 2))
	assert.ErrorIs(t, err, ErrStoreWrite, "a failing backend is surfaced")
	assert.Equal(t, 2, primary.Len(), "other backends still recorded")

	n, _ := c.Count(ctx)
	assert.Equal(t, 2, n)
}

func TestCompositeFailFast(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failWrite = errors.New("down")
	after := NewMemoryCatcher(0)
	c := NewComposite(NewStoreCatcher(store, WithStoreLogger(zap.NewNop())), after).FailFast()

	assert.Error(t, c.Record(ctx, caught("x", 1)))
	assert.Zero(t, after.Len())
}

func TestRecorderMergesContextTags(t *testing.T) {
	clock := clockwork.NewFakeClockAt(caughtAt)
	mem := NewMemoryCatcher(0)
	total := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "caught_total"}, []string{"backend", "outcome"})
	r := NewRecorder(mem, WithClock(clock), WithRecorderLogger(zap.NewNop()), WithCaughtErrorsTotal(total))

	ctx := WithTags(context.Background(), map[string]string{"request": "42", "path": "/a"})
	require.NoError(t, r.Add(ctx, errors.New("boom"), map[string]string{"path": "/b"}))
	require.NoError(t, r.Add(ctx, nil, nil))

	list, _ := r.List(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, map[string]string{"request": "42", "path": "/b"}, list[0].Tags)
	assert.Equal(t, caughtAt.UnixMilli(), list[0].Timestamp)
	assert.Equal(t, 1.0, testutil.ToFloat64(total.WithLabelValues("memory", "ok")))
}

func TestRecorderReportsFailedWrites(t *testing.T) {
	store := newMemStore()
	store.failWrite = errors.New("down")
	total := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "caught_total"}, []string{"backend", "outcome"})
	r := NewRecorder(NewStoreCatcher(store, WithStoreLogger(zap.NewNop())),
		WithRecorderLogger(zap.NewNop()), WithCaughtErrorsTotal(total))

	assert.ErrorIs(t, r.Add(context.Background(), errors.New("boom"), nil), ErrStoreWrite)
	assert.Equal(t, 1.0, testutil.ToFloat64(total.WithLabelValues("store", "failed")))
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.ErrorsConfig{Backends: []string{"memory"}, MaxEntries: 10}
	c, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryCatcher{}, c)

	cfg.Backends = []string{"store", "log", "memory"}
	c, err = New(cfg, newMemStore(), zap.NewNop())
	require.NoError(t, err)
	comp, ok := c.(*Composite)
	require.True(t, ok)
	assert.IsType(t, &StoreCatcher{}, comp.Primary())

	_, err = New(cfg, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = New(config.ErrorsConfig{Backends: []string{"solr"}}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
