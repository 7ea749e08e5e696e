package prefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

const bluetoothPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>ControllerPowerState</key>
	<integer>1</integer>
	<key>DeviceCache</key>
	<dict>
		<key>aa-bb-cc-dd-ee-ff</key>
		<dict>
			<key>Name</key>
			<string>Pro Buds</string>
			<key>BatteryPercent</key>
			<integer>45</integer>
		</dict>
		<key>11-22-33-44-55-66</key>
		<dict>
			<key>DisplayName</key>
			<string>Studio Headphones</string>
			<key>BatteryPercentCombined</key>
			<real>0.75</real>
		</dict>
		<key>22-33-44-55-66-77</key>
		<dict>
			<key>Name</key>
			<string>Split Buds</string>
			<key>BatteryPercentLeft</key>
			<string>30%</string>
			<key>BatteryPercentRight</key>
			<integer>55</integer>
		</dict>
		<key>33-44-55-66-77-88</key>
		<dict>
			<key>Name</key>
			<string>Old Mouse</string>
		</dict>
	</dict>
	<key>PairedDevices</key>
	<array>
		<string>aa-bb-cc-dd-ee-ff</string>
	</array>
	<key>Nested</key>
	<dict>
		<key>Cache</key>
		<dict>
			<key>44:55:66:77:88:99</key>
			<dict>
				<key>BatteryLevel</key>
				<string>88</string>
			</dict>
		</dict>
	</dict>
</dict>
</plist>
`

func writePlist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "com.apple.Bluetooth.plist")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCache_Collect(t *testing.T) {
	c := New(writePlist(t, bluetoothPlist))
	assert.Equal(t, domain.SourcePreferences, c.ID())

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	byAddr := map[string]int{}
	for _, s := range snap.Address {
		byAddr[s.Identifier] = s.Percent
	}
	assert.Equal(t, map[string]int{
		"aa-bb-cc-dd-ee-ff": 45,
		"11-22-33-44-55-66": 75,
		"22-33-44-55-66-77": 55,
		"44:55:66:77:88:99": 88,
	}, byAddr)

	byName := map[string]int{}
	for _, s := range snap.Name {
		byName[s.Identifier] = s.Percent
	}
	assert.Equal(t, map[string]int{
		"Pro Buds":          45,
		"Studio Headphones": 75,
		"Split Buds":        55,
	}, byName)
}

func TestCache_MissingFile(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent.plist"))

	snap, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Zero(t, snap.Len())
}

func TestCache_Malformed(t *testing.T) {
	c := New(writePlist(t, "<plist><dict><key>broken"))

	_, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)

	var srcErr *domain.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "parse", srcErr.Op)
}

func TestEntryPercent(t *testing.T) {
	p, ok := entryPercent(map[string]any{"BatteryPercentSingle": uint64(1)})
	require.True(t, ok)
	assert.Equal(t, 100, p, "bare 1 reads as a full fraction")

	p, ok = entryPercent(map[string]any{"BatteryPercent": "garbage", "BatteryLevel": 0.4})
	require.True(t, ok)
	assert.Equal(t, 40, p)

	_, ok = entryPercent(map[string]any{"Name": "x"})
	assert.False(t, ok)
}
