package suspicion

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oakgames/chessrelay/internal/obslog"
)

// EscalateFunc is the moderation hook called when an identity crosses the
// escalation thresholds; wired to moderation.(*Ledger).AutoBan. A func keeps
// the monitor free of a moderation import.
type EscalateFunc func(ctx context.Context, target, reason string, count int) error

type event struct {
	kind string
	at   time.Time
}

type record struct {
	events   []event
	lastMove time.Time
	lastChat time.Time
}

// Evaluation is the derived view of one identity's rolling window.
type Evaluation struct {
	Count         int
	DistinctKinds int
	Confidence    int // 0-100
}

// Config tunes the rolling window and escalation thresholds.
type Config struct {
	Window           time.Duration // rolling window for events
	MinMoveInterval  time.Duration // faster moves are flagged
	MinChatInterval  time.Duration // faster chat is flagged
	ReportThreshold  int           // event count needed to consider escalation
	BanConfidence    int           // confidence needed to escalate
	MinDistinctKinds int           // distinct kinds needed to escalate
	Exempt           string        // identity never auto-banned
}

// DefaultConfig mirrors the tuning the relay ships with.
func DefaultConfig() Config {
	return Config{
		Window:           60 * time.Second,
		MinMoveInterval:  500 * time.Millisecond,
		MinChatInterval:  300 * time.Millisecond,
		ReportThreshold:  10,
		BanConfidence:    70,
		MinDistinctKinds: 3,
	}
}

// Monitor keeps a rolling window of behavioral signals per identity and
// escalates to the moderation ledger when the thresholds are crossed. Growth
// is silent to the subject until an actual ban lands.
type Monitor struct {
	mu       sync.Mutex
	records  map[string]*record
	cfg      Config
	escalate EscalateFunc
	now      func() time.Time
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(cfg Config, escalate EscalateFunc, opts ...Option) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	cfg.Exempt = strings.ToLower(strings.TrimSpace(cfg.Exempt))
	m := &Monitor{
		records:  make(map[string]*record),
		cfg:      cfg,
		escalate: escalate,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordEvent appends a timestamped event to identity's window, pruning aged
// events first, and escalates when the thresholds are crossed.
func (m *Monitor) RecordEvent(ctx context.Context, identity, kind string) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" || kind == "" {
		return
	}

	m.mu.Lock()
	rec := m.recordFor(identity)
	now := m.now()
	m.pruneLocked(rec, now)
	rec.events = append(rec.events, event{kind: kind, at: now})
	ev := evaluateLocked(rec)
	shouldEscalate := ev.Count >= m.cfg.ReportThreshold &&
		ev.Confidence >= m.cfg.BanConfidence &&
		ev.DistinctKinds >= m.cfg.MinDistinctKinds &&
		identity != m.cfg.Exempt
	if shouldEscalate {
		// clear before releasing the lock so a ban failure cannot retrigger
		// on the very next event
		rec.events = nil
	}
	m.mu.Unlock()

	if !shouldEscalate || m.escalate == nil {
		return
	}
	obslog.L().Warn("suspicion_escalate",
		zap.String("identity", identity),
		zap.Int("count", ev.Count),
		zap.Int("distinct_kinds", ev.DistinctKinds),
		zap.Int("confidence", ev.Confidence),
	)
	if err := m.escalate(ctx, identity, "automated: suspicious activity", ev.Count); err != nil {
		obslog.L().Error("suspicion_escalate_error", zap.String("identity", identity), zap.Error(err))
	}
}

// Evaluate returns the current derived view for identity.
func (m *Monitor) Evaluate(identity string) Evaluation {
	identity = strings.ToLower(strings.TrimSpace(identity))
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[identity]
	if !ok {
		return Evaluation{}
	}
	m.pruneLocked(rec, m.now())
	return evaluateLocked(rec)
}

// evaluateLocked computes the confidence score. Volume and diversity each cap
// at 50 points so one repeated trivial signal cannot alone reach ban level.
func evaluateLocked(rec *record) Evaluation {
	kinds := make(map[string]bool)
	for _, e := range rec.events {
		kinds[e.kind] = true
	}
	count := len(rec.events)
	distinct := len(kinds)
	confidence := min(count*2, 50) + min(distinct*10, 50)
	return Evaluation{Count: count, DistinctKinds: distinct, Confidence: confidence}
}

// CheckMoveTiming records a move attempt and reports whether it arrived
// suspiciously fast after the previous one. A coarse bot signal, not a
// security control.
func (m *Monitor) CheckMoveTiming(identity string) (bool, time.Duration) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordFor(identity)
	now := m.now()
	last := rec.lastMove
	rec.lastMove = now
	if last.IsZero() {
		return true, 0
	}
	elapsed := now.Sub(last)
	return elapsed >= m.cfg.MinMoveInterval, elapsed
}

// CheckChatTiming is the chat-flood counterpart of CheckMoveTiming.
func (m *Monitor) CheckChatTiming(identity string) (bool, time.Duration) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordFor(identity)
	now := m.now()
	last := rec.lastChat
	rec.lastChat = now
	if last.IsZero() {
		return true, 0
	}
	elapsed := now.Sub(last)
	return elapsed >= m.cfg.MinChatInterval, elapsed
}

// Sweep drops identities whose windows have fully aged out. Run periodically
// so idle identities do not accumulate.
func (m *Monitor) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, rec := range m.records {
		m.pruneLocked(rec, now)
		if len(rec.events) == 0 && now.Sub(rec.lastMove) > m.cfg.Window && now.Sub(rec.lastChat) > m.cfg.Window {
			delete(m.records, id)
			removed++
		}
	}
	return removed
}

func (m *Monitor) recordFor(identity string) *record {
	rec, ok := m.records[identity]
	if !ok {
		rec = &record{}
		m.records[identity] = rec
	}
	return rec
}

func (m *Monitor) pruneLocked(rec *record, now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	i := 0
	for ; i < len(rec.events); i++ {
		if rec.events[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		rec.events = append(rec.events[:0], rec.events[i:]...)
	}
}
