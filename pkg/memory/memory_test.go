package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/producers"
	"github.com/stats-agent/pkg/scheduler"
)

type scripted struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (s *scripted) read(context.Context) (Usage, error) {
	n := uint64(s.calls.Add(1))
	if s.fail.Load() {
		return Usage{}, errors.New("unavailable")
	}
	return Usage{Committed: 1000 * n, Used: 400 * n, Max: 8000}, nil
}

func TestPoolIdentity(t *testing.T) {
	p := NewPool("Heap", HeapReader)
	assert.Equal(t, producers.Identity{ID: "MemoryPool-Heap", Category: "memory", Subsystem: "builtin"}, p.Identity())
	assert.Equal(t, Kind, p.Snapshot().Kind())
	assert.False(t, producers.Sampled(p.Snapshot()))

	require.NoError(t, p.Sample(context.Background()))
	assert.True(t, producers.Sampled(p.Snapshot()))
}

func TestInitIsFirstCommittedValue(t *testing.T) {
	src := &scripted{}
	p := NewPool("Fake", src.read)

	require.NoError(t, p.Sample(context.Background()))
	require.NoError(t, p.Sample(context.Background()))

	assert.Equal(t, Snapshot{Committed: 2000, Used: 800, Init: 1000, Max: 8000, sampled: true}, p.Stats())
}

func TestFailedReadKeepsSnapshot(t *testing.T) {
	src := &scripted{}
	p := NewPool("Fake", src.read)
	require.NoError(t, p.Sample(context.Background()))
	before := p.Stats()

	src.fail.Store(true)
	assert.Error(t, p.Sample(context.Background()))
	assert.Equal(t, before, p.Stats())
}

func TestRuntimeReaders(t *testing.T) {
	heap, err := HeapReader(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, heap.Committed)
	assert.NotZero(t, heap.Used)

	stack, err := StackReader(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stack.Committed, stack.Used)
}

func TestSamplerRegistersAndSchedules(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sched := scheduler.New(scheduler.WithClock(clock), scheduler.WithLogger(zap.NewNop()))
	defer sched.Shutdown()
	registry := producers.NewRegistry()

	src := &scripted{}
	s, err := Start(registry, sched, time.Minute, WithoutBuiltins(), WithPool("Fake", src.read), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	assert.Len(t, registry.ProducersByCategory("memory"), 1)
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond, "first sample is immediate")

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, time.Second, time.Millisecond)

	s.Stop()
	assert.Zero(t, registry.Len())
	assert.Equal(t, 0, sched.Len())
}

func TestSamplerWithBuiltins(t *testing.T) {
	sched := scheduler.New(scheduler.WithLogger(zap.NewNop()))
	defer sched.Shutdown()
	registry := producers.NewRegistry()

	s, err := Start(registry, sched, time.Hour, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer s.Stop()

	_, ok := registry.GetProducerByID("MemoryPool-Heap")
	assert.True(t, ok)
	_, ok = registry.GetProducerByID("MemoryPool-Stack")
	assert.True(t, ok)
}

func TestSamplerWithoutPools(t *testing.T) {
	sched := scheduler.New(scheduler.WithLogger(zap.NewNop()))
	defer sched.Shutdown()
	_, err := Start(producers.NewRegistry(), sched, time.Minute, WithoutBuiltins())
	assert.Error(t, err)
}
