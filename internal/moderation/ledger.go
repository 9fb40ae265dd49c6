package moderation

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oakgames/chessrelay/internal/obslog"
)

// Notifier delivers moderation outcomes to a live connection, if the target
// has one. Implemented by the relay server; a nil notifier is a no-op.
type Notifier interface {
	BanApplied(identity string, rec *Record)
	BanLifted(identity string)
}

// Ledger owns the ban list: capability checks, expiry computation, lazy
// expiry on read, and the automatic escalation entry point used by the
// suspicion monitor.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	admins    map[string]bool
	overrides map[string]string // actor -> privileged target the actor may ban
	exempt    string
	notifier  Notifier
	now       func() time.Time
}

type LedgerOption func(*Ledger)

func WithNotifier(n Notifier) LedgerOption {
	return func(l *Ledger) { l.notifier = n }
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger builds a ledger over store. admins hold the ban capability;
// overrides allow specific actor->target bans between privileged identities;
// exempt can never acquire a record.
func NewLedger(store Store, admins []string, overrides map[string]string, exempt string, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:     store,
		admins:    make(map[string]bool, len(admins)),
		overrides: make(map[string]string, len(overrides)),
		exempt:    strings.ToLower(strings.TrimSpace(exempt)),
		now:       time.Now,
	}
	for _, a := range admins {
		l.admins[strings.ToLower(strings.TrimSpace(a))] = true
	}
	for actor, target := range overrides {
		l.overrides[strings.ToLower(actor)] = strings.ToLower(target)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetNotifier wires the notifier after construction; the relay server is
// built after the ledger it depends on.
func (l *Ledger) SetNotifier(n Notifier) {
	l.mu.Lock()
	l.notifier = n
	l.mu.Unlock()
}

// IsAdmin reports whether identity holds the ban capability.
func (l *Ledger) IsAdmin(identity string) bool {
	return l.admins[strings.ToLower(strings.TrimSpace(identity))]
}

// Ban creates a record for target. The actor must hold the ban capability;
// banning another privileged identity requires a configured actor->target
// override. Invalid or non-positive durations are rejected rather than
// silently promoted to permanent bans.
func (l *Ledger) Ban(ctx context.Context, actor, target, reason string, duration int, unit string) (*Record, error) {
	actor = strings.ToLower(strings.TrimSpace(actor))
	target = strings.ToLower(strings.TrimSpace(target))

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.admins[actor] {
		return nil, ErrForbidden
	}
	if l.admins[target] && l.overrides[actor] != target {
		return nil, ErrForbidden
	}
	if l.exempt != "" && target == l.exempt {
		return nil, ErrExemptTarget
	}

	u, ok := ParseUnit(unit)
	if !ok {
		return nil, ErrInvalidUnit
	}
	if u != UnitPermanent && duration <= 0 {
		obslog.L().Warn("ban_rejected_invalid_duration",
			zap.String("actor", actor),
			zap.String("target", target),
			zap.Int("duration", duration),
			zap.String("unit", string(u)),
		)
		return nil, ErrInvalidDuration
	}

	if cur, err := l.activeLocked(ctx, target); err != nil {
		return nil, err
	} else if cur != nil {
		return nil, ErrAlreadyBanned
	}

	now := l.now()
	rec := &Record{
		Identity: target,
		Reason:   reason,
		Actor:    actor,
		Duration: duration,
		Unit:     u,
		IssuedAt: now,
	}
	if u != UnitPermanent {
		exp := now.Add(u.spanOf(duration))
		rec.ExpiresAt = &exp
	}
	if err := l.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	obslog.L().Info("ban_applied",
		zap.String("actor", actor),
		zap.String("target", target),
		zap.String("reason", reason),
		zap.String("unit", string(u)),
		zap.Int("duration", duration),
	)
	if l.notifier != nil {
		l.notifier.BanApplied(target, rec)
	}
	return rec, nil
}

// AutoBan is the escalation entry point used by the suspicion monitor. The
// ban severity is tiered by the observed event count; the top tier is
// permanent. Exempt and already-banned targets are skipped without error.
func (l *Ledger) AutoBan(ctx context.Context, target, reason string, count int) (*Record, error) {
	target = strings.ToLower(strings.TrimSpace(target))

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.exempt != "" && target == l.exempt {
		return nil, nil
	}
	if cur, err := l.activeLocked(ctx, target); err != nil {
		return nil, err
	} else if cur != nil {
		return nil, nil
	}

	duration, unit := autoTier(count)
	now := l.now()
	rec := &Record{
		Identity: target,
		Reason:   reason,
		Actor:    "system",
		Duration: duration,
		Unit:     unit,
		IssuedAt: now,
	}
	if unit != UnitPermanent {
		exp := now.Add(unit.spanOf(duration))
		rec.ExpiresAt = &exp
	}
	if err := l.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	obslog.L().Warn("auto_ban",
		zap.String("target", target),
		zap.String("reason", reason),
		zap.Int("event_count", count),
		zap.String("unit", string(unit)),
		zap.Int("duration", duration),
	)
	if l.notifier != nil {
		l.notifier.BanApplied(target, rec)
	}
	return rec, nil
}

// autoTier maps a suspicion event count to a ban severity.
func autoTier(count int) (int, Unit) {
	switch {
	case count >= 40:
		return 0, UnitPermanent
	case count >= 20:
		return 1, UnitDays
	default:
		return 1, UnitHours
	}
}

// Unban removes an active record.
func (l *Ledger) Unban(ctx context.Context, actor, target string) error {
	actor = strings.ToLower(strings.TrimSpace(actor))
	target = strings.ToLower(strings.TrimSpace(target))

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.admins[actor] {
		return ErrForbidden
	}
	cur, err := l.activeLocked(ctx, target)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrNotBanned
	}
	if err := l.store.Delete(ctx, target); err != nil {
		return err
	}
	obslog.L().Info("unban", zap.String("actor", actor), zap.String("target", target))
	return nil
}

// ActiveRecord returns the target's record if it is still in force. An
// observed-expired record is deleted and the target, if connected, gets the
// lifted notice.
func (l *Ledger) ActiveRecord(ctx context.Context, target string) (*Record, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeLocked(ctx, target)
}

// IsActive reports whether target currently has an active ban.
func (l *Ledger) IsActive(ctx context.Context, target string) bool {
	rec, err := l.ActiveRecord(ctx, target)
	return err == nil && rec != nil
}

func (l *Ledger) activeLocked(ctx context.Context, target string) (*Record, error) {
	rec, err := l.store.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if rec.ActiveAt(l.now()) {
		return rec, nil
	}
	if err := l.store.Delete(ctx, target); err != nil {
		return nil, err
	}
	obslog.L().Info("ban_expired", zap.String("target", target))
	if l.notifier != nil {
		l.notifier.BanLifted(target)
	}
	return nil, nil
}

// List returns all records still in force, expiring stale ones on the way.
func (l *Ledger) List(ctx context.Context) ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := l.now()
	out := recs[:0]
	for _, rec := range recs {
		if rec.ActiveAt(now) {
			out = append(out, rec)
			continue
		}
		if err := l.store.Delete(ctx, rec.Identity); err != nil {
			return nil, err
		}
		if l.notifier != nil {
			l.notifier.BanLifted(rec.Identity)
		}
	}
	return out, nil
}
