package mock

import (
	"fmt"
	"math/rand"
	"strings"
)

// Vendor OUI prefixes (first 3 bytes of the address)
var vendorPrefixes = map[string]string{
	"Apple":      "AC:BC:32",
	"Sony":       "00:13:A9",
	"Bose":       "04:52:C7",
	"JBL":        "00:1D:DF",
	"Jabra":      "50:C2:ED",
	"Sennheiser": "00:1B:66",
	"Samsung":    "00:12:FB",
	"Logitech":   "00:1F:20",
}

// TelemetryStyle is the identifier space an accessory reports battery through.
type TelemetryStyle int

const (
	// StyleRegistry reports by canonical address while connected.
	StyleRegistry TelemetryStyle = iota
	// StylePreferences reports by compact lowercase address, connected or not.
	StylePreferences
	// StyleProfiler reports by product name while connected.
	StyleProfiler
	// StyleNone never reports battery.
	StyleNone
)

func (s TelemetryStyle) String() string {
	switch s {
	case StyleRegistry:
		return "registry"
	case StylePreferences:
		return "preferences"
	case StyleProfiler:
		return "profiler"
	default:
		return "none"
	}
}

const (
	uuidA2DPSink   = "0000110b-0000-1000-8000-00805f9b34fb"
	uuidHandsfree  = "0000111e-0000-1000-8000-00805f9b34fb"
	uuidHID        = "00001124-0000-1000-8000-00805f9b34fb"
	classHeadphone = 0x240418
	classHeadset   = 0x240404
	classSpeaker   = 0x240414
	classKeyboard  = 0x002540
)

type accessoryTemplate struct {
	Name   string
	Vendor string
	Class  uint32
	UUIDs  []string
}

var templates = []accessoryTemplate{
	{"Pro Buds", "Apple", 0, []string{uuidA2DPSink, uuidHandsfree}},
	{"WH-1000XM5", "Sony", classHeadphone, []string{uuidA2DPSink}},
	{"QC45", "Bose", classHeadphone, []string{uuidA2DPSink, uuidHandsfree}},
	{"Flip 6", "JBL", classSpeaker, []string{uuidA2DPSink}},
	{"Evolve2 65", "Jabra", classHeadset, []string{uuidHandsfree}},
	{"Momentum 4", "Sennheiser", classHeadphone, []string{uuidA2DPSink}},
	{"Galaxy Buds2", "Samsung", 0, []string{uuidA2DPSink}},
}

// MockAccessory is one simulated paired device.
type MockAccessory struct {
	Address   string
	Name      string
	Class     uint32
	UUIDs     []string
	Style     TelemetryStyle
	Battery   int
	Connected bool
}

// DataGenerator generates mock accessories.
type DataGenerator struct {
	rand *rand.Rand
}

// NewDataGenerator creates a generator; equal seeds produce equal scenarios.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{rand: rand.New(rand.NewSource(seed))}
}

// GenerateMAC generates a random address with the vendor's prefix
func (g *DataGenerator) GenerateMAC(vendor string) string {
	prefix, ok := vendorPrefixes[vendor]
	if !ok {
		prefix = fmt.Sprintf("%02X:%02X:%02X", g.rand.Intn(256)&0xfe, g.rand.Intn(256), g.rand.Intn(256))
	}
	return fmt.Sprintf("%s:%02X:%02X:%02X", prefix, g.rand.Intn(256), g.rand.Intn(256), g.rand.Intn(256))
}

// GenerateAccessory builds an accessory from a template.
func (g *DataGenerator) GenerateAccessory(t accessoryTemplate, style TelemetryStyle) *MockAccessory {
	return &MockAccessory{
		Address: g.GenerateMAC(t.Vendor),
		Name:    t.Name,
		Class:   t.Class,
		UUIDs:   append([]string(nil), t.UUIDs...),
		Style:   style,
		Battery: 20 + g.rand.Intn(81),
	}
}

// GenerateScenario creates the accessories of a named scenario.
//
//	basic:   one accessory per telemetry style plus a keyboard that is never audio
//	crowded: every template, styles assigned round robin
func (g *DataGenerator) GenerateScenario(scenario string) []*MockAccessory {
	var out []*MockAccessory
	switch strings.ToLower(scenario) {
	case "crowded":
		for i, t := range templates {
			out = append(out, g.GenerateAccessory(t, TelemetryStyle(i%4)))
		}
	default:
		for i := StyleRegistry; i <= StyleNone; i++ {
			out = append(out, g.GenerateAccessory(templates[int(i)], i))
		}
	}
	keyboard := g.GenerateAccessory(accessoryTemplate{Name: "MX Keys", Vendor: "Logitech", Class: classKeyboard, UUIDs: []string{uuidHID}}, StyleRegistry)
	return append(out, keyboard)
}

func (g *DataGenerator) intn(n int) int {
	return g.rand.Intn(n)
}
