package strategy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/pkg/eventbus"
)

const DefaultActivityCapacity = 100

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelTrade Level = "TRADE"
)

type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// ActivityLog keeps the latest entries of one strategy in a ring buffer and
// mirrors them to slog. Listeners are fed through an event bus, so Add never
// waits on them.
type ActivityLog struct {
	log *slog.Logger
	bus *eventbus.Bus[Entry]

	mu      sync.RWMutex
	entries []Entry
	next    int
	cap     int
}

func NewActivityLog(strategy string, capacity int, log *slog.Logger) *ActivityLog {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &ActivityLog{
		log:     log,
		bus:     eventbus.New[Entry]("activity:"+strategy, 0),
		entries: make([]Entry, 0, capacity),
		cap:     capacity,
	}
}

func (a *ActivityLog) Add(level Level, msg string) {
	e := Entry{Time: time.Now(), Level: level, Message: msg}

	a.mu.Lock()
	if len(a.entries) < a.cap {
		a.entries = append(a.entries, e)
	} else {
		a.entries[a.next] = e
		a.next = (a.next + 1) % a.cap
	}
	a.mu.Unlock()

	switch level {
	case LevelWarn:
		a.log.Warn(msg)
	case LevelError:
		a.log.Error(msg)
	case LevelTrade:
		a.log.Info(msg, "activity", string(LevelTrade))
	default:
		a.log.Info(msg)
	}
	_ = a.bus.Publish(e)
}

func (a *ActivityLog) Info(format string, args ...any)  { a.Add(LevelInfo, fmt.Sprintf(format, args...)) }
func (a *ActivityLog) Warn(format string, args ...any)  { a.Add(LevelWarn, fmt.Sprintf(format, args...)) }
func (a *ActivityLog) Error(format string, args ...any) { a.Add(LevelError, fmt.Sprintf(format, args...)) }
func (a *ActivityLog) Trade(format string, args ...any) { a.Add(LevelTrade, fmt.Sprintf(format, args...)) }

// Entries returns up to limit of the newest entries, oldest first. A
// non-positive limit returns everything retained.
func (a *ActivityLog) Entries(limit int) []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := len(a.entries)
	if limit <= 0 || limit > total {
		limit = total
	}
	out := make([]Entry, 0, limit)
	for i := total - limit; i < total; i++ {
		out = append(out, a.entries[(a.next+i)%total])
	}
	return out
}

func (a *ActivityLog) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *ActivityLog) Capacity() int {
	return a.cap
}

func (a *ActivityLog) AddListener(fn func(Entry)) eventbus.ListenerID {
	return a.bus.Subscribe(fn)
}

func (a *ActivityLog) RemoveListener(id eventbus.ListenerID) bool {
	return a.bus.Unsubscribe(id)
}

func (a *ActivityLog) Close() {
	a.bus.Close()
}
