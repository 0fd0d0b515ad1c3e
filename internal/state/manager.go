package state

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/notifications"
	"github.com/ducminhle1904/risk-orchestrator/internal/storage"
)

const storageKey = "system_state"

// SystemState is the single authoritative operating mode
type SystemState struct {
	Mode      Mode      `json:"mode"`
	ChangedAt time.Time `json:"changed_at"`
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor"`
}

// ModeChange is published to subscribers after every successful transition
type ModeChange struct {
	From   Mode
	To     Mode
	Reason string
	Actor  string
	At     time.Time
}

// Manager owns the SystemState. It is the only writer; every reader goes
// through Current or the Allows* helpers.
type Manager struct {
	mu      sync.RWMutex
	current SystemState
	version uint64

	persistMu        sync.Mutex
	persistedVersion uint64

	store    storage.Store
	notifier notifications.Notifier
	log      *logger.Logger
	now      func() time.Time

	subMu       sync.RWMutex
	subscribers []func(ModeChange)
}

// NewManager creates a manager in NORMAL mode. Call Restore to pick up a persisted mode.
func NewManager(store storage.Store, notifier notifications.Notifier, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{
		store:    store,
		notifier: notifier,
		log:      log.With("state"),
		now:      time.Now,
	}
	m.current = SystemState{Mode: ModeNormal, ChangedAt: m.now(), Reason: "startup", Actor: "system"}
	return m
}

// Restore loads the last persisted state, if any
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	var saved SystemState
	err := m.store.Load(ctx, storageKey, &saved)
	if stderrors.Is(err, storage.ErrNotFound) {
		m.log.Info("no persisted system state, starting in %s", ModeNormal)
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore system state: %w", err)
	}
	if !saved.Mode.Valid() {
		return fmt.Errorf("restore system state: persisted mode %q is invalid", saved.Mode)
	}

	m.mu.Lock()
	m.current = saved
	m.mu.Unlock()

	m.log.Info("restored system mode %s (reason: %s, actor: %s)", saved.Mode, saved.Reason, saved.Actor)
	return nil
}

// Current returns a copy of the current state
func (m *Manager) Current() SystemState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Mode returns the current mode
func (m *Manager) Mode() Mode {
	return m.Current().Mode
}

func (m *Manager) AllowsNewEntries() bool {
	return m.Mode().AllowsNewEntries()
}

func (m *Manager) AllowsExits() bool {
	return m.Mode().AllowsExits()
}

// Subscribe registers fn to be called after each successful transition.
// Callbacks run synchronously on the transitioning goroutine and must not call Transition.
func (m *Manager) Subscribe(fn func(ModeChange)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Transition moves the system to target if the table allows it. An illegal
// request leaves the state untouched, is logged and raises a critical alert.
func (m *Manager) Transition(ctx context.Context, target Mode, reason, actor string) bool {
	m.mu.Lock()
	from := m.current.Mode
	if !CanTransition(from, target) {
		m.mu.Unlock()
		m.log.Error("illegal mode transition %s -> %s requested by %s (%s)", from, target, actor, reason)
		m.alert(ctx, notifications.SeverityCritical, fmt.Sprintf("illegal mode transition %s -> %s rejected", from, target),
			map[string]string{"actor": actor, "reason": reason})
		return false
	}

	next := SystemState{Mode: target, ChangedAt: m.now(), Reason: reason, Actor: actor}
	m.current = next
	m.version++
	version := m.version
	m.mu.Unlock()

	if persistErr := m.persist(ctx, next, version); persistErr != nil {
		m.log.LogError("persist system state", persistErr)
		m.alert(ctx, notifications.SeverityError, "failed to persist system state", map[string]string{"error": persistErr.Error()})
	}

	m.log.Warning("system mode %s -> %s (reason: %s, actor: %s)", from, target, reason, actor)

	severity := notifications.SeverityWarning
	if target == ModeEmergency {
		severity = notifications.SeverityCritical
	}
	m.alert(ctx, severity, fmt.Sprintf("system mode changed %s -> %s", from, target),
		map[string]string{"actor": actor, "reason": reason})

	change := ModeChange{From: from, To: target, Reason: reason, Actor: actor, At: next.ChangedAt}
	m.subMu.RLock()
	subs := append([]func(ModeChange){}, m.subscribers...)
	m.subMu.RUnlock()
	for _, fn := range subs {
		fn(change)
	}
	return true
}

// persist writes a state outside m.mu. A write older than one already stored is dropped.
func (m *Manager) persist(ctx context.Context, st SystemState, version uint64) error {
	if m.store == nil {
		return nil
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if version <= m.persistedVersion {
		return nil
	}
	m.persistedVersion = version
	return m.store.Save(ctx, storageKey, st)
}

func (m *Manager) alert(ctx context.Context, severity notifications.Severity, msg string, meta map[string]string) {
	if err := notifications.Send(ctx, m.notifier, severity, "state", msg, meta); err != nil {
		m.log.LogError("send mode alert", err)
	}
}
