package domain

// PairedDevice is one entry reported by the OS device directory.
type PairedDevice struct {
	Address   string   `json:"address"`
	Name      string   `json:"name"`
	ClassBits uint32   `json:"class_bits"`
	UUIDs     []string `json:"uuids,omitempty"`
	Connected bool     `json:"connected"`
}

// Notification is an OS push notification about a connection change.
type Notification struct {
	Address   string
	Connected bool
}

// DirectorySnapshot holds connected, audio capable devices keyed by normalized address.
type DirectorySnapshot map[string]PairedDevice

// Diff returns the devices present in s but not in prev, and those present in prev but not in s.
func (s DirectorySnapshot) Diff(prev DirectorySnapshot) (added, removed []PairedDevice) {
	for key, dev := range s {
		if _, ok := prev[key]; !ok {
			added = append(added, dev)
		}
	}
	for key, dev := range prev {
		if _, ok := s[key]; !ok {
			removed = append(removed, dev)
		}
	}
	return added, removed
}

// Clone returns a shallow copy of the snapshot.
func (s DirectorySnapshot) Clone() DirectorySnapshot {
	out := make(DirectorySnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
