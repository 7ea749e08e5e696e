package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/identity"
	"github.com/lcalzada-xor/accessoryd/internal/telemetry"
)

const numShards = 8

type accessoryShard struct {
	mu      sync.RWMutex
	devices map[string]domain.AccessoryDevice
}

// AccessoryRegistry is the live set of connected accessories keyed by
// normalized address. Devices go in and come out by value.
type AccessoryRegistry struct {
	shards []*accessoryShard
}

// NewAccessoryRegistry creates a new sharded registry.
func NewAccessoryRegistry() *AccessoryRegistry {
	r := &AccessoryRegistry{shards: make([]*accessoryShard, numShards)}
	for i := 0; i < numShards; i++ {
		r.shards[i] = &accessoryShard{devices: make(map[string]domain.AccessoryDevice)}
	}
	return r
}

func (r *AccessoryRegistry) getShard(key string) *accessoryShard {
	hash := uint32(0)
	for i := 0; i < len(key); i++ {
		hash = hash*31 + uint32(key[i])
	}
	return r.shards[hash%uint32(len(r.shards))]
}

// Add stores the device. It returns false if a device with the same address
// was already present, in which case the stored record is replaced.
func (r *AccessoryRegistry) Add(device domain.AccessoryDevice) bool {
	key := identity.NormalizeAddress(device.Address)
	shard := r.getShard(key)
	shard.mu.Lock()
	_, exists := shard.devices[key]
	shard.devices[key] = device
	shard.mu.Unlock()

	telemetry.AccessoriesConnected.Set(float64(r.Count()))
	return !exists
}

// Remove deletes the device and returns the removed record.
func (r *AccessoryRegistry) Remove(address string) (domain.AccessoryDevice, bool) {
	key := identity.NormalizeAddress(address)
	shard := r.getShard(key)
	shard.mu.Lock()
	dev, ok := shard.devices[key]
	delete(shard.devices, key)
	shard.mu.Unlock()

	if ok {
		telemetry.AccessoriesConnected.Set(float64(r.Count()))
	}
	return dev, ok
}

func (r *AccessoryRegistry) Get(address string) (domain.AccessoryDevice, bool) {
	key := identity.NormalizeAddress(address)
	shard := r.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	dev, ok := shard.devices[key]
	return dev, ok
}

// All returns copies of every live device, oldest connection first.
func (r *AccessoryRegistry) All(ctx context.Context) []domain.AccessoryDevice {
	var all []domain.AccessoryDevice
	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, d := range shard.devices {
			all = append(all, d)
		}
		shard.mu.RUnlock()
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ConnectedAt.Equal(all[j].ConnectedAt) {
			return all[i].Address < all[j].Address
		}
		return all[i].ConnectedAt.Before(all[j].ConnectedAt)
	})
	return all
}

// UpdateBattery replaces the stored battery of a live device in place.
func (r *AccessoryRegistry) UpdateBattery(address string, battery domain.Battery, at time.Time) bool {
	key := identity.NormalizeAddress(address)
	shard := r.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	dev, ok := shard.devices[key]
	if !ok {
		return false
	}
	dev.Battery = battery
	dev.UpdatedAt = at
	shard.devices[key] = dev
	return true
}

func (r *AccessoryRegistry) Count() int {
	count := 0
	for _, shard := range r.shards {
		shard.mu.RLock()
		count += len(shard.devices)
		shard.mu.RUnlock()
	}
	return count
}
