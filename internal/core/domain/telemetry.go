package domain

import "time"

// SourceID identifies a telemetry source adapter.
type SourceID string

const (
	SourceRegistry    SourceID = "registry"
	SourcePreferences SourceID = "preferences"
	SourceProfiler    SourceID = "profiler"
)

// IdentifierKind tells which key space a sample identifier belongs to.
type IdentifierKind string

const (
	IdentifierAddress     IdentifierKind = "address"
	IdentifierProductName IdentifierKind = "product_name"
)

// TelemetrySample is a single battery reading reported by one source.
type TelemetrySample struct {
	Source         SourceID       `json:"source"`
	IdentifierKind IdentifierKind `json:"identifier_kind"`
	Identifier     string         `json:"identifier"`
	Percent        int            `json:"percent"`
}

// Snapshot is the best-effort result of one source query.
type Snapshot struct {
	Source  SourceID
	Address []TelemetrySample
	Name    []TelemetrySample
}

// AddAddress records an address keyed sample. Empty identifiers are ignored.
func (s *Snapshot) AddAddress(identifier string, percent int) {
	if identifier == "" {
		return
	}
	s.Address = append(s.Address, TelemetrySample{
		Source:         s.Source,
		IdentifierKind: IdentifierAddress,
		Identifier:     identifier,
		Percent:        ClampPercent(percent),
	})
}

// AddName records a product name keyed sample. Empty identifiers are ignored.
func (s *Snapshot) AddName(identifier string, percent int) {
	if identifier == "" {
		return
	}
	s.Name = append(s.Name, TelemetrySample{
		Source:         s.Source,
		IdentifierKind: IdentifierProductName,
		Identifier:     identifier,
		Percent:        ClampPercent(percent),
	})
}

// Len returns the total number of samples.
func (s Snapshot) Len() int {
	return len(s.Address) + len(s.Name)
}

// TelemetryEntries is a read-only view of the reconciliation cache.
type TelemetryEntries struct {
	ByAddress     map[string]int `json:"by_address"`
	ByName        map[string]int `json:"by_name"`
	LastRefreshed time.Time      `json:"last_refreshed"`
}
