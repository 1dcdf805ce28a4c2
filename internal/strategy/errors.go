package strategy

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInitialized = errors.New("strategy already initialized")
	ErrNotInitialized     = errors.New("strategy not initialized")
	ErrShutdown           = errors.New("strategy is shut down")
	ErrDuplicateStrategy  = errors.New("duplicate strategy name")
	ErrNoTrader           = errors.New("no order service configured")
	ErrUnknownType        = errors.New("unknown strategy type")
	ErrNotFound           = errors.New("strategy not found")
)

// NoMarketsError means an event scope matched no markets. The strategy
// manager drops the strategy instead of failing startup.
type NoMarketsError struct {
	EventTicker       string
	TotalMarkets      int
	FilterDescription string
}

func (e *NoMarketsError) Error() string {
	desc := e.FilterDescription
	if desc == "" {
		desc = "none"
	}
	return fmt.Sprintf("no markets to track in event %s: 0 of %d passed filter (%s)",
		e.EventTicker, e.TotalMarkets, desc)
}

// IsNoMarkets reports whether err carries a NoMarketsError.
func IsNoMarkets(err error) bool {
	var nm *NoMarketsError
	return errors.As(err, &nm)
}
