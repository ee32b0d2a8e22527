package web

import (
	"sync"
	"time"

	"github.com/teslashibe/go-inspect/pkg/bridge"
)

// maxEntries caps each log pane.
const maxEntries = 500

// LogEntry is one line in a dashboard log pane.
type LogEntry struct {
	Time    string `json:"time"`
	Tag     string `json:"tag"`
	Prefix  string `json:"prefix"`
	Message string `json:"message"`
}

func newEntry(tag bridge.Tag, msg string) LogEntry {
	return LogEntry{
		Time:    time.Now().Format("15:04:05.000"),
		Tag:     string(tag),
		Prefix:  tag.Prefix(),
		Message: msg,
	}
}

// ring keeps the newest maxEntries entries.
type ring struct {
	mu      sync.RWMutex
	entries []LogEntry
}

func newRing() *ring {
	return &ring{entries: make([]LogEntry, 0, maxEntries)}
}

func (r *ring) add(e LogEntry) {
	r.mu.Lock()
	if len(r.entries) == maxEntries {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:maxEntries-1]
	}
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *ring) snapshot() []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LogEntry(nil), r.entries...)
}
