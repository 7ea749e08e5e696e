// Package profiler runs the external system profiler and extracts battery
// levels for connected Bluetooth devices from its JSON report.
package profiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

const DefaultTimeout = 10 * time.Second

// pipeWaitDelay bounds how long a killed profiler's descendants may keep its
// output pipes open.
var pipeWaitDelay = 2 * time.Second

// DefaultCommand is the macOS profiler invocation.
var DefaultCommand = []string{"system_profiler", "SPBluetoothDataType", "-json"}

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Battery fields in priority order; the side fields are combined with max.
var (
	primaryFields = []string{"device_batteryLevel", "device_batteryLevelMain", "device_batteryLevelCombined"}
	sideFields    = []string{"device_batteryLevelLeft", "device_batteryLevelRight"}
	caseField     = "device_batteryLevelCase"
)

// Config for the profiler source.
type Config struct {
	Command []string
	Timeout time.Duration
}

// Profiler is the external profiler telemetry source.
type Profiler struct {
	command []string
	timeout time.Duration
	run     Runner
	logger  *slog.Logger
}

// New creates a profiler source.
func New(cfg Config, logger *slog.Logger) *Profiler {
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Profiler{
		command: cfg.Command,
		timeout: cfg.Timeout,
		run:     execRunner,
		logger:  logger.With("component", "profiler"),
	}
}

func (p *Profiler) ID() domain.SourceID {
	return domain.SourceProfiler
}

// Collect spawns the profiler with a bounded timeout and parses its output.
func (p *Profiler) Collect(ctx context.Context) (domain.Snapshot, error) {
	snap := domain.Snapshot{Source: domain.SourceProfiler}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	out, err := p.run(ctx, p.command[0], p.command[1:]...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", p.timeout, context.DeadlineExceeded)
		}
		return snap, domain.NewSourceError(domain.SourceProfiler, "exec",
			fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err))
	}
	p.logger.Debug("profiler finished", "took", time.Since(start), "bytes", len(out))

	if err := Parse(out, &snap); err != nil {
		return snap, domain.NewSourceError(domain.SourceProfiler, "parse", err)
	}
	return snap, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = pipeWaitDelay

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Parse walks a profiler JSON report and records every device listed under a
// "device_connected" key, at any depth.
func Parse(data []byte, snap *domain.Snapshot) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	if _, ok := root.(map[string]any); !ok {
		return fmt.Errorf("%w: top level is %T, want object", domain.ErrMalformedPayload, root)
	}

	walk(root, snap)
	return nil
}

func walk(node any, snap *domain.Snapshot) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			if key == "device_connected" {
				recordConnected(child, snap)
				continue
			}
			walk(child, snap)
		}
	case []any:
		for _, child := range v {
			walk(child, snap)
		}
	}
}

// recordConnected handles the [{"<name>": {...props}}] shape of device lists.
func recordConnected(list any, snap *domain.Snapshot) {
	items, ok := list.([]any)
	if !ok {
		return
	}
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for name, raw := range entry {
			props, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			percent, ok := batteryPercent(props)
			if !ok {
				continue
			}
			snap.AddName(name, percent)
			if addr, ok := props["device_address"].(string); ok {
				snap.AddAddress(addr, percent)
			}
		}
	}
}

func batteryPercent(props map[string]any) (int, bool) {
	for _, k := range primaryFields {
		if p, ok := field(props, k); ok {
			return p, true
		}
	}

	best, found := 0, false
	for _, k := range sideFields {
		if p, ok := field(props, k); ok && (!found || p > best) {
			best, found = p, true
		}
	}
	if found {
		return best, true
	}

	return field(props, caseField)
}

func field(props map[string]any, key string) (int, bool) {
	v, ok := props[key]
	if !ok {
		return 0, false
	}
	return domain.ParsePercent(v)
}
