package router

import (
	"log/slog"
	"sort"

	"github.com/lcalzada-xor/accessoryd/internal/core/services/identity"
)

// Ledger tracks devices whose last lookup found no battery value.
// A diagnostic is logged only when a key enters the set. Keys outlive the
// connection so a reconnect without data stays quiet. Callers serialize access.
type Ledger struct {
	keys   map[string]struct{}
	logger *slog.Logger
}

func NewLedger(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{keys: make(map[string]struct{}), logger: logger}
}

// Observe records the outcome of one lookup. It returns true when a
// diagnostic was emitted.
func (l *Ledger) Observe(name, address string, known bool) bool {
	key := identity.LedgerKey(name, address)
	_, missing := l.keys[key]

	switch {
	case known && missing:
		delete(l.keys, key)
		l.logger.Info("battery telemetry recovered", "name", name, "address", address)
	case !known && !missing:
		l.keys[key] = struct{}{}
		l.logger.Warn("no battery telemetry for accessory", "name", name, "address", address, "key", key)
		return true
	}
	return false
}

// Active returns, in sorted order, the ledger keys present in live.
func (l *Ledger) Active(live map[string]struct{}) []string {
	out := make([]string, 0, len(l.keys))
	for k := range l.keys {
		if _, ok := live[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
