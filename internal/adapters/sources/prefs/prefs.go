// Package prefs reads battery levels from the OS-maintained Bluetooth
// preferences property list. The file is only ever read.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"howett.net/plist"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/identity"
)

// DefaultPath is the system Bluetooth preferences file on macOS.
const DefaultPath = "/Library/Preferences/com.apple.Bluetooth.plist"

const maxDepth = 8

var (
	batteryKeys = []string{"BatteryPercent", "BatteryPercentCombined", "BatteryPercentSingle", "BatteryLevel"}
	sideKeys    = []string{"BatteryPercentLeft", "BatteryPercentRight"}
	nameKeys    = []string{"Name", "DisplayName"}
)

// Cache is the preferences cache telemetry source.
type Cache struct {
	path     string
	readFile func(string) ([]byte, error)
}

// New creates a source reading the property list at path.
func New(path string) *Cache {
	if path == "" {
		path = DefaultPath
	}
	return &Cache{path: path, readFile: os.ReadFile}
}

func (c *Cache) ID() domain.SourceID {
	return domain.SourcePreferences
}

// Collect parses the property list (XML, binary or OpenStep) and records every
// device entry found in a dictionary keyed by hardware addresses.
func (c *Cache) Collect(ctx context.Context) (domain.Snapshot, error) {
	snap := domain.Snapshot{Source: domain.SourcePreferences}
	if err := ctx.Err(); err != nil {
		return snap, domain.NewSourceError(domain.SourcePreferences, "read", err)
	}

	data, err := c.readFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return snap, domain.NewSourceError(domain.SourcePreferences, "read",
				fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err))
		}
		return snap, domain.NewSourceError(domain.SourcePreferences, "read", err)
	}

	var root any
	if _, err := plist.Unmarshal(data, &root); err != nil {
		return snap, domain.NewSourceError(domain.SourcePreferences, "parse",
			fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err))
	}

	walk(&snap, root, 0)
	return snap, nil
}

func walk(snap *domain.Snapshot, node any, depth int) {
	if depth > maxDepth {
		return
	}
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			entry, isDict := child.(map[string]any)
			if isDict && identity.LooksLikeAddress(key) {
				record(snap, key, entry)
				continue
			}
			walk(snap, child, depth+1)
		}
	case []any:
		for _, child := range v {
			walk(snap, child, depth+1)
		}
	}
}

func record(snap *domain.Snapshot, address string, entry map[string]any) {
	percent, ok := entryPercent(entry)
	if !ok {
		return
	}
	snap.AddAddress(address, percent)
	for _, k := range nameKeys {
		if name, ok := entry[k].(string); ok && name != "" {
			snap.AddName(name, percent)
			return
		}
	}
}

// entryPercent takes the first present single-value field, then the best side.
func entryPercent(entry map[string]any) (int, bool) {
	for _, k := range batteryKeys {
		if v, ok := entry[k]; ok {
			if p, ok := domain.ParsePercent(v); ok {
				return p, true
			}
		}
	}

	best, found := 0, false
	for _, k := range sideKeys {
		if v, ok := entry[k]; ok {
			if p, ok := domain.ParsePercent(v); ok && (!found || p > best) {
				best, found = p, true
			}
		}
	}
	return best, found
}
