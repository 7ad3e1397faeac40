// Package audit builds a consistent point-in-time snapshot of the directory
// (users, profile number assignments, and number ownership records) and
// derives inconsistency findings from it. Finding derivation is pure: every
// call recomputes from the same snapshot, so results always agree with each
// other.
package audit

import (
	"strings"
	"time"

	"github.com/dialplan/extaudit/pkg/directory"
)

// Kind selects which number space an audit runs against.
type Kind string

const (
	// KindExtension audits internal extension numbers.
	KindExtension Kind = "extension"
	// KindDID audits direct inward dialing numbers.
	KindDID Kind = "did"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(s)) {
	case KindExtension:
		return KindExtension, true
	case KindDID:
		return KindDID, true
	}
	return "", false
}

// ProfileAssignment pairs a user with the single profile number extracted
// from their address list. A user has at most one per snapshot.
type ProfileAssignment struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	UserState string `json:"user_state,omitempty"`
	Number    string `json:"number"`
}

// Context is the immutable audit snapshot: the full user and record lists
// plus the indices findings are derived from. Number-keyed maps use folded
// keys (see fold); duplicates within a number group are preserved, never
// collapsed.
type Context struct {
	Kind            Kind
	IncludeInactive bool

	Users       []directory.User
	UsersByID   map[string]*directory.User
	DisplayByID map[string]string

	Assignments    []ProfileAssignment
	ProfileNumbers []string // distinct, in first-seen order

	Records         []directory.OwnershipRecord
	RecordsByNumber map[string][]directory.OwnershipRecord
}

// Summary is the headline shape of a snapshot.
type Summary struct {
	Kind                   Kind `json:"kind"`
	UsersTotal             int  `json:"users_total"`
	UsersWithProfileNumber int  `json:"users_with_profile_number"`
	DistinctProfileNumbers int  `json:"distinct_profile_numbers"`
	RecordsLoaded          int  `json:"records_loaded"`
}

// Summary returns the headline counts for the snapshot.
func (c *Context) Summary() Summary {
	return Summary{
		Kind:                   c.Kind,
		UsersTotal:             len(c.Users),
		UsersWithProfileNumber: len(c.Assignments),
		DistinctProfileNumbers: len(c.ProfileNumbers),
		RecordsLoaded:          len(c.Records),
	}
}

// RecordsFor returns the ownership record group for a number, nil when the
// number has no records.
func (c *Context) RecordsFor(number string) []directory.OwnershipRecord {
	return c.RecordsByNumber[fold(number)]
}

// Display returns the display string for a user id, falling back to the id
// itself for users outside the snapshot.
func (c *Context) Display(userID string) string {
	if d, ok := c.DisplayByID[fold(userID)]; ok {
		return d
	}
	return userID
}

// UserIssueRow flags a user hygiene problem unrelated to number
// reconciliation: missing location, missing default station, or a stale
// login.
type UserIssueRow struct {
	Issue         string     `json:"issue"`
	UserID        string     `json:"user_id"`
	UserName      string     `json:"user_name,omitempty"`
	UserEmail     string     `json:"user_email,omitempty"`
	UserState     string     `json:"user_state,omitempty"`
	DateLastLogin *time.Time `json:"date_last_login,omitempty"`
}

// fold normalizes identifiers and numbers for case-insensitive keying,
// matching the platform's comparison semantics.
func fold(s string) string {
	return strings.ToLower(s)
}

// equalFold matches the platform's case-insensitive equality.
func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

// blank reports whether a string is empty or whitespace.
func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
