package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/identity"
)

func accessoryWithStyle(t *testing.T, e *Environment, style TelemetryStyle) MockAccessory {
	t.Helper()
	for _, acc := range e.Accessories() {
		if acc.Style == style && acc.Name != "MX Keys" {
			return acc
		}
	}
	t.Fatalf("no accessory with style %s", style)
	return MockAccessory{}
}

func TestGenerateScenario(t *testing.T) {
	basic := NewDataGenerator(1).GenerateScenario("basic")
	require.Len(t, basic, 5)
	for i, style := range []TelemetryStyle{StyleRegistry, StylePreferences, StyleProfiler, StyleNone} {
		assert.Equal(t, style, basic[i].Style)
		assert.True(t, identity.LooksLikeAddress(basic[i].Address), basic[i].Address)
		assert.GreaterOrEqual(t, basic[i].Battery, 20)
	}
	assert.Equal(t, "MX Keys", basic[4].Name)

	crowded := NewDataGenerator(1).GenerateScenario("crowded")
	assert.Len(t, crowded, len(templates)+1)

	again := NewDataGenerator(1).GenerateScenario("basic")
	assert.Equal(t, basic[0].Address, again[0].Address, "equal seeds give equal scenarios")
}

func TestEnvironment_SourcesReportPerStyle(t *testing.T) {
	e := NewEnvironment("basic", 7, nil)
	reg := accessoryWithStyle(t, e, StyleRegistry)
	prefs := accessoryWithStyle(t, e, StylePreferences)
	prof := accessoryWithStyle(t, e, StyleProfiler)
	none := accessoryWithStyle(t, e, StyleNone)

	for _, acc := range []MockAccessory{reg, prefs, prof, none} {
		require.NoError(t, e.SetBattery(acc.Address, 55))
	}

	collect := func() map[domain.SourceID]domain.Snapshot {
		out := map[domain.SourceID]domain.Snapshot{}
		for _, src := range e.Sources() {
			snap, err := src.Collect(context.Background())
			require.NoError(t, err)
			out[src.ID()] = snap
		}
		return out
	}

	snaps := collect()
	assert.Zero(t, snaps[domain.SourceRegistry].Len(), "registry reports connected devices only")
	assert.Zero(t, snaps[domain.SourceProfiler].Len())
	require.Len(t, snaps[domain.SourcePreferences].Address, 1, "preferences are persisted")
	assert.Equal(t, identity.NormalizeAddress(prefs.Address), snaps[domain.SourcePreferences].Address[0].Identifier)

	for _, acc := range []MockAccessory{reg, prof, none} {
		require.NoError(t, e.SetConnected(acc.Address, true))
	}
	snaps = collect()
	require.Len(t, snaps[domain.SourceRegistry].Address, 1)
	assert.Equal(t, reg.Address, snaps[domain.SourceRegistry].Address[0].Identifier)
	require.Len(t, snaps[domain.SourceProfiler].Name, 1)
	assert.Equal(t, prof.Name, snaps[domain.SourceProfiler].Name[0].Identifier)
	assert.Equal(t, 55, snaps[domain.SourceProfiler].Name[0].Percent)
}

func TestEnvironment_Directory(t *testing.T) {
	e := NewEnvironment("basic", 3, nil)
	ctx := context.Background()
	acc := accessoryWithStyle(t, e, StyleRegistry)

	devices, err := e.ListPairedAudioDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 5)

	connected, err := e.IsConnected(ctx, acc.Address)
	require.NoError(t, err)
	assert.False(t, connected)

	_, err = e.IsConnected(ctx, "00:00:00:00:00:01")
	assert.Error(t, err)

	e.SetAvailable(false)
	_, err = e.ListPairedAudioDevices(ctx)
	assert.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
}

func TestEnvironment_SubscribeReceivesTransitions(t *testing.T) {
	e := NewEnvironment("basic", 3, nil)
	acc := accessoryWithStyle(t, e, StyleProfiler)

	var mu sync.Mutex
	var got []domain.Notification
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Subscribe(ctx, func(n domain.Notification) {
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		return len(e.subs) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.SetConnected(acc.Address, true))
	require.NoError(t, e.SetConnected(acc.Address, true), "no-op is not notified")
	require.NoError(t, e.SetConnected(acc.Address, false))

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.Notification{
		{Address: acc.Address, Connected: true},
		{Address: acc.Address, Connected: false},
	}, got)
}

func TestEnvironment_StepTogglesOneAccessory(t *testing.T) {
	e := NewEnvironment("basic", 11, nil)
	before := e.Accessories()
	e.Step()
	after := e.Accessories()

	toggled := 0
	for i := range before {
		if before[i].Connected != after[i].Connected {
			toggled++
		}
		assert.GreaterOrEqual(t, after[i].Battery, 0)
		assert.LessOrEqual(t, after[i].Battery, 100)
	}
	assert.Equal(t, 1, toggled)
}
