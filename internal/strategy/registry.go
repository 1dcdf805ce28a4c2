package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/goerajat/online-betting-sub000/internal/config"
)

// Factory builds a runner from its configuration block.
type Factory func(cfg config.StrategyConfig) (*Runner, error)

// Registry maps strategy type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(typ string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typ]; ok {
		return fmt.Errorf("strategy type %q already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

func (r *Registry) Build(cfg config.StrategyConfig) (*Runner, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	runner, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("build strategy %s: %w", cfg.Name, err)
	}
	return runner, nil
}

// Types lists registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// OptionsFromConfig maps the generic parts of a strategy block to runner
// options. Factories add their own on top.
func OptionsFromConfig(cfg config.StrategyConfig) []Option {
	var opts []Option
	if cfg.Interval > 0 {
		opts = append(opts, WithTimerInterval(cfg.Interval))
	}
	if len(cfg.Tickers) > 0 {
		opts = append(opts, WithTickers(cfg.Tickers...))
	}
	if len(cfg.DisplayTickers) > 0 {
		opts = append(opts, WithDisplayTickers(cfg.DisplayTickers...))
	}
	if cfg.QuoteSymbol != "" {
		opts = append(opts, WithQuoteSymbol(cfg.QuoteSymbol))
	}
	if cfg.EventTicker != "" {
		opts = append(opts, WithEventScope(EventScope{
			EventTicker:         cfg.EventTicker,
			ContinueOnNoMarkets: !cfg.FailFast(),
		}))
	}
	return opts
}
