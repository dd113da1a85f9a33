package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stats-agent/pkg/config"
)

func newManager(f *fixture) (*Manager, *[]*fakeFactory) {
	m := NewManager(f.registry, f.sched, WithLogger(f.log))
	var factories []*fakeFactory
	m.RegisterKind("fake", func(config.GroupConfig) (SourceFactory, error) {
		ff := &fakeFactory{}
		factories = append(factories, ff)
		return ff, nil
	})
	return m, &factories
}

func TestManagerInitializeAndLookup(t *testing.T) {
	f := newFixture(t)
	m, _ := newManager(f)

	g, err := m.Initialize(groupConfig("edge", "a"))
	require.NoError(t, err)
	got, ok := m.Group("edge")
	require.True(t, ok)
	assert.Same(t, g, got)

	_, err = m.Initialize(groupConfig("edge", "b"))
	assert.ErrorIs(t, err, ErrDuplicateGroup)

	cfg := groupConfig("web", "a")
	cfg.Kind = "apache"
	_, err = m.Initialize(cfg)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestManagerBuilderFailure(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.registry, f.sched, WithLogger(f.log))
	m.RegisterKind("fake", func(config.GroupConfig) (SourceFactory, error) {
		return nil, errors.New("no transport")
	})
	_, err := m.Initialize(groupConfig("edge", "a"))
	assert.Error(t, err)
	assert.Empty(t, m.Groups())
}

func TestManagerReconfigureByID(t *testing.T) {
	f := newFixture(t)
	m, _ := newManager(f)

	g, err := m.Initialize(groupConfig("edge", "a"))
	require.NoError(t, err)

	require.NoError(t, m.Reconfigure(groupConfig("edge", "b")))
	same, _ := m.Group("edge")
	assert.Same(t, g, same, "reconfigure keeps the group instance")
	assert.Equal(t, []string{"Fake-b"}, ids(f.registry.Producers()))

	assert.ErrorIs(t, m.Reconfigure(groupConfig("missing", "x")), ErrUnknownGroup)
}

func TestDeinitializeRemovesGroupForever(t *testing.T) {
	f := newFixture(t)
	m, factories := newManager(f)

	g, err := m.Initialize(groupConfig("edge", "a"))
	require.NoError(t, err)

	require.NoError(t, m.Deinitialize("edge"))
	_, ok := m.Group("edge")
	assert.False(t, ok)
	assert.Equal(t, Deinitialized, g.State())
	assert.Zero(t, f.registry.Len())
	assert.True(t, (*factories)[0].closed.Load(), "group-private resources are released")
	assert.ErrorIs(t, m.Deinitialize("edge"), ErrUnknownGroup)

	// deinitializing through the group itself also leaves the manager
	g2, err := m.Initialize(groupConfig("edge", "a"))
	require.NoError(t, err)
	require.NoError(t, g2.Deinitialize())
	assert.Empty(t, m.Groups())
}

func TestApplyConvergesGroups(t *testing.T) {
	f := newFixture(t)
	m, _ := newManager(f)

	require.NoError(t, m.Apply([]config.GroupConfig{
		groupConfig("edge", "a"),
		groupConfig("core", "b"),
	}))
	edge, _ := m.Group("edge")
	edgeSource := edge.Sources()[0]

	require.NoError(t, m.Apply([]config.GroupConfig{
		groupConfig("edge", "a"),
		groupConfig("api", "c"),
	}))

	var got []string
	for _, g := range m.Groups() {
		got = append(got, g.ID())
	}
	assert.Equal(t, []string{"api", "edge"}, got)
	assert.Same(t, edgeSource, edge.Sources()[0], "unchanged groups keep their sources")
	assert.Equal(t, []string{"Fake-a", "Fake-c"}, ids(f.registry.Producers()))

	require.NoError(t, m.Apply([]config.GroupConfig{groupConfig("edge", "a", "d")}))
	assert.NotSame(t, edgeSource, edge.Sources()[0], "changed groups are rebuilt")
	assert.Equal(t, []string{"Fake-a", "Fake-d"}, ids(f.registry.Producers()))
}

func TestManagerShutdown(t *testing.T) {
	f := newFixture(t)
	m, _ := newManager(f)
	_, err := m.Initialize(groupConfig("edge", "a"))
	require.NoError(t, err)
	_, err = m.Initialize(groupConfig("core", "b"))
	require.NoError(t, err)

	require.NoError(t, m.Shutdown())
	assert.Empty(t, m.Groups())
	assert.Zero(t, f.registry.Len())
	assert.Equal(t, 0, f.sched.Len())
}
