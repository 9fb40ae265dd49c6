package moderation

import (
	"errors"
	"time"
)

// Unit is the duration unit of a ban.
type Unit string

const (
	UnitMinutes   Unit = "minutes"
	UnitHours     Unit = "hours"
	UnitDays      Unit = "days"
	UnitPermanent Unit = "permanent"
)

// ParseUnit normalizes a wire unit string.
func ParseUnit(s string) (Unit, bool) {
	switch Unit(s) {
	case UnitMinutes, UnitHours, UnitDays, UnitPermanent:
		return Unit(s), true
	}
	return "", false
}

func (u Unit) spanOf(n int) time.Duration {
	switch u {
	case UnitMinutes:
		return time.Duration(n) * time.Minute
	case UnitHours:
		return time.Duration(n) * time.Hour
	case UnitDays:
		return time.Duration(n) * 24 * time.Hour
	}
	return 0
}

// Record is one ban entry, keyed by the lowercased identity.
type Record struct {
	Identity  string     `json:"identity"`
	Reason    string     `json:"reason"`
	Actor     string     `json:"actor"`
	Duration  int        `json:"duration"`
	Unit      Unit       `json:"unit"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil for permanent
}

// ActiveAt reports whether the record is still in force at t.
func (r *Record) ActiveAt(t time.Time) bool {
	return r.ExpiresAt == nil || !t.After(*r.ExpiresAt)
}

var (
	ErrForbidden       = errors.New("actor lacks ban capability")
	ErrExemptTarget    = errors.New("target is exempt from moderation")
	ErrAlreadyBanned   = errors.New("target already has an active ban")
	ErrNotBanned       = errors.New("target has no active ban")
	ErrInvalidUnit     = errors.New("invalid ban duration unit")
	ErrInvalidDuration = errors.New("ban duration must be positive")
)
