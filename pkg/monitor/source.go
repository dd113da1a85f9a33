package monitor

import (
	"context"
	"errors"

	"github.com/stats-agent/pkg/config"
	"github.com/stats-agent/pkg/producers"
)

var (
	// ErrSourceClosed is returned by Sample once the source was closed; the
	// result of a sample racing with Close is discarded.
	ErrSourceClosed = errors.New("source closed")

	// ErrGroupRunning is returned by Setup on a running group.
	ErrGroupRunning = errors.New("monitor group already running")

	// ErrGroupClosed is returned by any lifecycle call after Deinitialize.
	ErrGroupClosed = errors.New("monitor group deinitialized")

	// ErrGroupMismatch is returned when a reconfiguration targets another group id.
	ErrGroupMismatch = errors.New("config does not belong to this group")

	// ErrUnknownGroup is returned by the manager for an id it does not hold.
	ErrUnknownGroup = errors.New("unknown monitor group")

	// ErrDuplicateGroup is returned when initializing an id twice.
	ErrDuplicateGroup = errors.New("monitor group already initialized")

	// ErrUnknownKind is returned when no factory is registered for a kind.
	ErrUnknownKind = errors.New("unknown monitor kind")
)

// Source is a producer whose snapshot is refreshed by Sample. Sample is only
// called by the owning group's tick and may fail; a failed sample leaves the
// previous snapshot in place.
type Source interface {
	producers.Producer
	Sample(ctx context.Context) error
	Close() error
}

// SourceFactory builds the sources of one group and owns the resources they
// share, such as an HTTP transport.
type SourceFactory interface {
	NewSource(group config.GroupConfig, target config.TargetConfig) (Source, error)
	Close() error
}

// FactoryBuilder creates the factory of a new group.
type FactoryBuilder func(cfg config.GroupConfig) (SourceFactory, error)
