// Package notify surfaces exhausted-retry batches to an operator, with
// per-priority cooldowns so a flapping sink pages once per window, not
// once per batch.
package notify

import (
	"sync"
	"time"

	"github.com/wifiloc/wifiloc/pkg/logx"
)

// Priority orders notifications by operator urgency.
type Priority int

const (
	PriorityInfo Priority = iota
	PriorityWarning
	PriorityCritical
	PriorityEmergency
)

func (p Priority) String() string {
	switch p {
	case PriorityInfo:
		return "info"
	case PriorityWarning:
		return "warning"
	case PriorityCritical:
		return "critical"
	case PriorityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Config holds per-priority cooldowns, preventing a flapping sink from
// paging an operator once per batch.
type Config struct {
	CriticalCooldown time.Duration
	WarningCooldown  time.Duration
}

func DefaultConfig() Config {
	return Config{
		CriticalCooldown: 5 * time.Minute,
		WarningCooldown:  1 * time.Hour,
	}
}

// Manager surfaces supervisor-visible events, rate-limited per
// priority.
type Manager struct {
	cfg        Config
	log        *logx.Logger
	mu         sync.Mutex
	lastSentAt map[Priority]time.Time
}

// New builds a Manager.
func New(cfg Config, log *logx.Logger) *Manager {
	return &Manager{cfg: cfg, log: log.WithField("component", "notify"), lastSentAt: make(map[Priority]time.Time)}
}

// ExhaustedBatch surfaces a batch whose retries ran out, naming the
// batch id, partition, offset range, and exhausted exception class —
// the fields an operator needs to decide whether to intervene or let
// the unacknowledged batch simply reprocess on consumer restart.
func (m *Manager) ExhaustedBatch(batchID string, partition int, lowOffset, highOffset uint64, class string) {
	m.notify(PriorityCritical, "batch delivery retries exhausted", map[string]interface{}{
		"batchId":    batchID,
		"partition":  partition,
		"lowOffset":  lowOffset,
		"highOffset": highOffset,
		"class":      class,
	})
}

func (m *Manager) notify(priority Priority, message string, fields map[string]interface{}) {
	cooldown := m.cooldownFor(priority)

	m.mu.Lock()
	last, seen := m.lastSentAt[priority]
	suppressed := seen && cooldown > 0 && time.Since(last) < cooldown
	if !suppressed {
		m.lastSentAt[priority] = time.Now()
	}
	m.mu.Unlock()

	if suppressed {
		return
	}

	fields["priority"] = priority.String()
	m.log.WithFields(fields).Error(message)
}

func (m *Manager) cooldownFor(priority Priority) time.Duration {
	switch priority {
	case PriorityCritical:
		return m.cfg.CriticalCooldown
	case PriorityWarning:
		return m.cfg.WarningCooldown
	default:
		return 0
	}
}
