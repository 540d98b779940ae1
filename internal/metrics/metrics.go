package metrics

import "sync/atomic"

// MetricID indexes one counter in the fixed counter table.
type MetricID int

const (
	MetricMFASetupRequested MetricID = iota
	MetricMFAEnabled
	MetricMFADisabled
	MetricChallengeSuccess
	MetricChallengeFailure
	MetricBackupCodeUsed
	MetricTokenBlacklisted
	MetricBlacklistHit
	MetricBlacklistFailClosed
	MetricUserInvalidated
	MetricFederatedSuccess
	MetricFederatedFailure
	MetricDeviceTrusted
	MetricDeviceBypass
	MetricDeviceRevoked

	MetricIDCount
)

// Config controls metric collection. When Enabled is false every operation
// is a no-op.
type Config struct {
	Enabled bool
}

// Metrics is a fixed table of atomic counters. All methods are safe for
// concurrent use and never allocate on the increment path.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]atomic.Uint64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

// New creates a Metrics instance per cfg.
func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id < 0 || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || !m.enabled || id < 0 || id >= MetricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// SnapshotNow deep-copies every counter.
func (m *Metrics) SnapshotNow() Snapshot {
	out := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return out
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		out.Counters[id] = m.counters[id].Load()
	}
	return out
}
