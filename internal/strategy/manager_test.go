package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goerajat/online-betting-sub000/internal/config"
)

type lifecycleLog struct {
	mu     sync.Mutex
	events []string
}

func (l *lifecycleLog) RecordLifecycle(strategy, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, strategy+":"+event)
}

func (l *lifecycleLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestManagerDropsStrategyWithoutMarkets(t *testing.T) {
	h := newHarness(t)
	audit := &lifecycleLog{}
	m := NewManager(h.svc, WithLifecycleAuditor(audit))

	empty := NewRunner(&hookStrategy{name: "empty", minVolume: 1000}, scope(true))
	ok := NewRunner(&hookStrategy{name: "ok"}, WithTickers("A"), WithTimerInterval(time.Hour))
	require.NoError(t, m.Add(empty))
	require.NoError(t, m.Add(ok))

	require.NoError(t, m.InitializeAll(context.Background()))

	_, found := m.Get("empty")
	assert.False(t, found)
	assert.Equal(t, StateShutdown, empty.State())
	require.Len(t, m.Runners(), 1)
	assert.Equal(t, "ok", m.Runners()[0].Name())
	assert.Contains(t, audit.all(), "empty:no_markets")
	assert.Contains(t, audit.all(), "ok:initialized")
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	m := NewManager(Services{})
	require.NoError(t, m.Add(NewRunner(&hookStrategy{name: "dup"})))
	assert.ErrorIs(t, m.Add(NewRunner(&hookStrategy{name: "dup"})), ErrDuplicateStrategy)
}

func TestManagerLifecycle(t *testing.T) {
	h := newHarness(t)
	m := NewManager(h.svc)
	a := &hookStrategy{name: "a"}
	b := &hookStrategy{name: "b"}
	require.NoError(t, m.Add(NewRunner(a, WithTickers("A"), WithTimerInterval(time.Hour))))
	require.NoError(t, m.Add(NewRunner(b, WithTickers("A", "B"), WithTimerInterval(time.Hour))))
	ctx := context.Background()

	require.NoError(t, m.InitializeAll(ctx))
	require.NoError(t, m.ActivateAll(ctx))
	assert.Equal(t, 2, h.markets.RefCount("A"))
	assert.Equal(t, 1, h.markets.RefCount("B"))

	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "a", statuses[0].Name)
	assert.Equal(t, "ACTIVE", statuses[0].State)
	assert.Equal(t, []string{"A", "B"}, statuses[1].TrackedTickers)

	require.NoError(t, m.Deactivate("a"))
	assert.Equal(t, 1, h.markets.RefCount("A"))
	assert.Error(t, m.Activate(ctx, "missing"))

	require.NoError(t, m.ShutdownAll(ctx))
	require.NoError(t, m.ShutdownAll(ctx))
	assert.EqualValues(t, 1, a.shutdowns.Load())
	assert.EqualValues(t, 1, b.shutdowns.Load())
	assert.Equal(t, 0, h.markets.RefCount("A"))
	assert.ErrorIs(t, m.Add(NewRunner(&hookStrategy{name: "late"})), ErrShutdown)
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("hook", func(cfg config.StrategyConfig) (*Runner, error) {
		return NewRunner(&hookStrategy{name: cfg.Name}, OptionsFromConfig(cfg)...), nil
	}))
	assert.Error(t, reg.Register("hook", nil))
	assert.Equal(t, []string{"hook"}, reg.Types())

	r, err := reg.Build(config.StrategyConfig{
		Name:           "s1",
		Type:           "hook",
		Interval:       2 * time.Second,
		DisplayTickers: []string{"X"},
		EventTicker:    "EV",
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", r.Name())
	assert.Equal(t, 2*time.Second, r.Interval())
	require.NotNil(t, r.scope)
	assert.False(t, r.scope.ContinueOnNoMarkets)

	_, err = reg.Build(config.StrategyConfig{Name: "s2", Type: "nope"})
	assert.ErrorIs(t, err, ErrUnknownType)
}
