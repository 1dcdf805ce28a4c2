package strategy

import "sync"

// MaxDisplayTickers caps how many tickers a strategy surfaces for display.
const MaxDisplayTickers = 4

// DisplaySet is an ordered, capped set of tickers.
type DisplaySet struct {
	mu    sync.RWMutex
	items []string
	max   int
}

func NewDisplaySet(max int) *DisplaySet {
	if max <= 0 || max > MaxDisplayTickers {
		max = MaxDisplayTickers
	}
	return &DisplaySet{max: max}
}

// Set replaces the contents, keeping the first max distinct tickers.
func (d *DisplaySet) Set(tickers []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = d.items[:0]
	for _, t := range tickers {
		if len(d.items) == d.max {
			break
		}
		if t != "" && !d.containsLocked(t) {
			d.items = append(d.items, t)
		}
	}
}

// Fill appends tickers until the set is full.
func (d *DisplaySet) Fill(tickers []string) {
	for _, t := range tickers {
		if !d.Add(t) && d.Full() {
			return
		}
	}
}

// Add reports false when t is already present or the set is full.
func (d *DisplaySet) Add(t string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t == "" || len(d.items) >= d.max || d.containsLocked(t) {
		return false
	}
	d.items = append(d.items, t)
	return true
}

func (d *DisplaySet) Remove(t string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range d.items {
		if v == t {
			d.items = append(d.items[:i], d.items[i+1:]...)
			return true
		}
	}
	return false
}

func (d *DisplaySet) Contains(t string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.containsLocked(t)
}

func (d *DisplaySet) containsLocked(t string) bool {
	for _, v := range d.items {
		if v == t {
			return true
		}
	}
	return false
}

func (d *DisplaySet) Full() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items) >= d.max
}

func (d *DisplaySet) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.items...)
}
