package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Identifiers come from the identity provider and the content catalog, so they
// are opaque strings: letters, digits and a few separators, at most 128 chars.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]{0,127}$`)

// UserID identifies the owner of progress, ledger and subscription records.
type UserID string

// IsValid checks if the user ID has an acceptable format.
func (u UserID) IsValid() bool {
	return idRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", ErrInvalidUserID
	}
	return uid, nil
}

// ActivityID identifies a single completable unit of practice in the catalog.
type ActivityID string

// IsValid checks if the activity ID has an acceptable format.
func (a ActivityID) IsValid() bool {
	return idRegex.MatchString(string(a))
}

// String returns the string representation.
func (a ActivityID) String() string {
	return string(a)
}

// NewActivityID creates a new ActivityID with validation.
func NewActivityID(id string) (ActivityID, error) {
	aid := ActivityID(strings.TrimSpace(id))
	if !aid.IsValid() {
		return "", ErrInvalidActivityID
	}
	return aid, nil
}

// RoutineID identifies a catalog bundle of activities.
type RoutineID string

// IsValid checks if the routine ID has an acceptable format.
func (r RoutineID) IsValid() bool {
	return idRegex.MatchString(string(r))
}

// String returns the string representation.
func (r RoutineID) String() string {
	return string(r)
}

// NewRoutineID creates a new RoutineID with validation.
func NewRoutineID(id string) (RoutineID, error) {
	rid := RoutineID(strings.TrimSpace(id))
	if !rid.IsValid() {
		return "", ErrInvalidRoutineID
	}
	return rid, nil
}

// AchievementID identifies an entry of the achievement catalog.
type AchievementID string

// String returns the string representation.
func (a AchievementID) String() string {
	return string(a)
}
