// Package memory exposes the memory pools of the agent process as producers.
package memory

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/stats-agent/pkg/producers"
)

const (
	// Kind of the memory pool snapshots.
	Kind = "memory_pool"

	idPrefix  = "MemoryPool"
	category  = "memory"
	subsystem = "builtin"
)

// Usage is one reading of a pool, in bytes. Max is 0 when the pool has no limit.
type Usage struct {
	Committed uint64
	Used      uint64
	Max       uint64
}

// Reader reads the current usage of a pool.
type Reader func(ctx context.Context) (Usage, error)

// Snapshot of a pool. Init is the first committed value ever read.
type Snapshot struct {
	Committed uint64
	Used      uint64
	Init      uint64
	Max       uint64

	sampled bool
}

func (s *Snapshot) Kind() string { return Kind }

func (s *Snapshot) Sampled() bool { return s.sampled }

func (s *Snapshot) Values() []producers.Value {
	return []producers.Value{
		{Name: "committed_bytes", Help: "Memory reserved for the pool", Type: producers.Gauge, Value: float64(s.Committed)},
		{Name: "used_bytes", Help: "Memory in use in the pool", Type: producers.Gauge, Value: float64(s.Used)},
		{Name: "init_bytes", Help: "Committed memory at the first sample", Type: producers.Gauge, Value: float64(s.Init)},
		{Name: "max_bytes", Help: "Pool limit, 0 when unbounded", Type: producers.Gauge, Value: float64(s.Max)},
	}
}

// Pool is the producer of one memory pool.
type Pool struct {
	id       producers.Identity
	read     Reader
	snapshot atomic.Pointer[Snapshot]
	initOnce sync.Once
	initial  uint64
}

// NewPool creates the producer "MemoryPool-<name>" reading through r.
func NewPool(name string, r Reader) *Pool {
	p := &Pool{
		id:   producers.NewIdentity(idPrefix, name, category, subsystem),
		read: r,
	}
	p.snapshot.Store(&Snapshot{})
	return p
}

func (p *Pool) Identity() producers.Identity { return p.id }

func (p *Pool) Snapshot() producers.Snapshot { return p.snapshot.Load() }

// Stats returns a copy of the current snapshot.
func (p *Pool) Stats() Snapshot { return *p.snapshot.Load() }

// Sample reads the pool. A failed read keeps the previous snapshot.
func (p *Pool) Sample(ctx context.Context) error {
	u, err := p.read(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", p.id.ID, err)
	}
	p.initOnce.Do(func() { p.initial = u.Committed })
	p.snapshot.Store(&Snapshot{
		Committed: u.Committed,
		Used:      u.Used,
		Init:      p.initial,
		Max:       u.Max,
		sampled:   true,
	})
	return nil
}

// HeapReader reads the Go heap. Max is the soft memory limit when one is set.
func HeapReader(context.Context) (Usage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	var limit uint64
	if l := debug.SetMemoryLimit(-1); l > 0 && l != math.MaxInt64 {
		limit = uint64(l)
	}
	return Usage{
		Committed: ms.HeapSys - ms.HeapReleased,
		Used:      ms.HeapAlloc,
		Max:       limit,
	}, nil
}

// StackReader reads goroutine stacks.
func StackReader(context.Context) (Usage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Usage{Committed: ms.StackSys, Used: ms.StackInuse}, nil
}

// NewProcessReader reads the OS view of the current process: resident
// memory is used, virtual memory is committed and the host total is max.
func NewProcessReader() (Reader, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open own process: %w", err)
	}
	return func(ctx context.Context) (Usage, error) {
		info, err := proc.MemoryInfoWithContext(ctx)
		if err != nil {
			return Usage{}, fmt.Errorf("process memory: %w", err)
		}
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return Usage{}, fmt.Errorf("host memory: %w", err)
		}
		return Usage{Committed: info.VMS, Used: info.RSS, Max: vm.Total}, nil
	}, nil
}
