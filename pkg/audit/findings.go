package audit

import (
	"sort"
	"time"

	"github.com/dialplan/extaudit/pkg/directory"
)

// Discrepancy issue classifications.
const (
	IssueOwnerTypeNotUser = "OwnerTypeNotUser"
	IssueOwnerMismatch    = "OwnerMismatch"
)

// IssueNoOwnershipRecord marks a claimed number with no record at all.
const IssueNoOwnershipRecord = "NoOwnershipRecord"

// User hygiene issue classifications.
const (
	IssueNoLocationAssigned       = "NoLocationAssigned"
	IssueNoDefaultStationAssigned = "NoDefaultStationAssigned"
	IssueNoTokenIssuedInLast90    = "NoTokenIssuedInLast90Days"
)

// ownerTypeUser is the owner-type tag for user-owned records.
const ownerTypeUser = "USER"

// DuplicateUserRow is one member of a profile number claimed by more than
// one user.
type DuplicateUserRow struct {
	Number    string `json:"number"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	UserState string `json:"user_state,omitempty"`
}

// DuplicateRecordRow is one member of a number backed by more than one
// ownership record.
type DuplicateRecordRow struct {
	Number    string `json:"number"`
	RecordID  string `json:"record_id,omitempty"`
	OwnerType string `json:"owner_type,omitempty"`
	OwnerID   string `json:"owner_id,omitempty"`
	PoolID    string `json:"pool_id,omitempty"`
}

// DiscrepancyRow is a uniquely-recorded number whose recorded owner
// disagrees with the claiming user.
type DiscrepancyRow struct {
	Issue           string `json:"issue"`
	Number          string `json:"number"`
	UserID          string `json:"user_id"`
	UserName        string `json:"user_name,omitempty"`
	UserEmail       string `json:"user_email,omitempty"`
	RecordID        string `json:"record_id,omitempty"`
	RecordOwnerType string `json:"record_owner_type,omitempty"`
	RecordOwnerID   string `json:"record_owner_id,omitempty"`
}

// MissingAssignmentRow is a claimed number with no ownership record at all.
type MissingAssignmentRow struct {
	Issue     string `json:"issue"`
	Number    string `json:"number"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	UserState string `json:"user_state,omitempty"`
}

// DuplicateUserAssignments returns every assignment whose number is claimed
// by more than one user. Rows are sorted by number then user id so repeated
// calls on the same snapshot are identical.
func (c *Context) DuplicateUserAssignments() []DuplicateUserRow {
	groups := make(map[string][]ProfileAssignment)
	for _, a := range c.Assignments {
		key := fold(a.Number)
		groups[key] = append(groups[key], a)
	}

	var rows []DuplicateUserRow
	for _, members := range groups {
		if len(members) <= 1 {
			continue
		}
		for _, m := range members {
			rows = append(rows, DuplicateUserRow{
				Number:    m.Number,
				UserID:    m.UserID,
				UserName:  m.UserName,
				UserEmail: m.UserEmail,
				UserState: m.UserState,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if a, b := fold(rows[i].Number), fold(rows[j].Number); a != b {
			return a < b
		}
		return fold(rows[i].UserID) < fold(rows[j].UserID)
	})
	return rows
}

// DuplicateRecords returns every ownership record whose number is backed by
// more than one record.
func (c *Context) DuplicateRecords() []DuplicateRecordRow {
	var rows []DuplicateRecordRow
	for _, group := range c.RecordsByNumber {
		if len(group) <= 1 {
			continue
		}
		for _, r := range group {
			rows = append(rows, DuplicateRecordRow{
				Number:    r.Number,
				RecordID:  r.ID,
				OwnerType: r.OwnerType,
				OwnerID:   r.OwnerID(),
				PoolID:    poolID(r.Pool),
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if a, b := fold(rows[i].Number), fold(rows[j].Number); a != b {
			return a < b
		}
		return rows[i].RecordID < rows[j].RecordID
	})
	return rows
}

// Discrepancies returns assignments whose number has exactly one ownership
// record that disagrees with the assignee. Numbers implicated in either
// duplicate set are exempt entirely; the duplicate categories own them and
// downstream consumers rely on that mutual exclusivity.
func (c *Context) Discrepancies() []DiscrepancyRow {
	dupUsers, dupRecords := c.duplicateSets()

	var rows []DiscrepancyRow
	for _, a := range c.Assignments {
		key := fold(a.Number)
		if dupUsers[key] || dupRecords[key] {
			continue
		}

		group := c.RecordsByNumber[key]
		if len(group) != 1 {
			// Zero records is a missing assignment; >1 is a duplicate.
			continue
		}

		r := group[0]
		ownerID := r.OwnerID()

		if !equalFold(r.OwnerType, ownerTypeUser) {
			rows = append(rows, DiscrepancyRow{
				Issue:           IssueOwnerTypeNotUser,
				Number:          a.Number,
				UserID:          a.UserID,
				UserName:        a.UserName,
				UserEmail:       a.UserEmail,
				RecordID:        r.ID,
				RecordOwnerType: r.OwnerType,
				RecordOwnerID:   ownerID,
			})
			continue
		}

		if !blank(ownerID) && !equalFold(ownerID, a.UserID) {
			rows = append(rows, DiscrepancyRow{
				Issue:           IssueOwnerMismatch,
				Number:          a.Number,
				UserID:          a.UserID,
				UserName:        a.UserName,
				UserEmail:       a.UserEmail,
				RecordID:        r.ID,
				RecordOwnerType: r.OwnerType,
				RecordOwnerID:   ownerID,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if a, b := fold(rows[i].Number), fold(rows[j].Number); a != b {
			return a < b
		}
		return fold(rows[i].UserID) < fold(rows[j].UserID)
	})
	return rows
}

// MissingAssignments returns assignments whose number has no ownership
// record, excluding numbers implicated in either duplicate set.
func (c *Context) MissingAssignments() []MissingAssignmentRow {
	dupUsers, dupRecords := c.duplicateSets()

	var rows []MissingAssignmentRow
	for _, a := range c.Assignments {
		key := fold(a.Number)
		if dupUsers[key] || dupRecords[key] {
			continue
		}
		if len(c.RecordsByNumber[key]) > 0 {
			continue
		}
		rows = append(rows, MissingAssignmentRow{
			Issue:     IssueNoOwnershipRecord,
			Number:    a.Number,
			UserID:    a.UserID,
			UserName:  a.UserName,
			UserEmail: a.UserEmail,
			UserState: a.UserState,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if a, b := fold(rows[i].Number), fold(rows[j].Number); a != b {
			return a < b
		}
		return fold(rows[i].UserID) < fold(rows[j].UserID)
	})
	return rows
}

// UserIssues flags hygiene problems on every user in the snapshot: no
// location, no default station, or no token issued in the last 90 days.
func (c *Context) UserIssues(now time.Time) []UserIssueRow {
	cutoff := now.AddDate(0, 0, -90)

	var rows []UserIssueRow
	for i := range c.Users {
		u := &c.Users[i]
		if u.ID == "" {
			continue
		}

		if len(u.Locations) == 0 {
			rows = append(rows, userIssue(IssueNoLocationAssigned, u))
		}
		if u.Station == nil || blank(u.Station.ID) {
			rows = append(rows, userIssue(IssueNoDefaultStationAssigned, u))
		}
		if u.DateLastLogin == nil || u.DateLastLogin.Before(cutoff) {
			rows = append(rows, userIssue(IssueNoTokenIssuedInLast90, u))
		}
	}
	return rows
}

func userIssue(issue string, u *directory.User) UserIssueRow {
	return UserIssueRow{
		Issue:         issue,
		UserID:        u.ID,
		UserName:      u.Name,
		UserEmail:     u.Email,
		UserState:     u.State,
		DateLastLogin: u.DateLastLogin,
	}
}

// duplicateSets returns the folded number sets implicated in the two
// duplicate categories. Numbers in either set are exempt from the
// discrepancy and missing categories by design.
func (c *Context) duplicateSets() (dupUsers, dupRecords map[string]bool) {
	dupUsers = make(map[string]bool)
	counts := make(map[string]int)
	for _, a := range c.Assignments {
		counts[fold(a.Number)]++
	}
	for key, n := range counts {
		if n > 1 {
			dupUsers[key] = true
		}
	}

	dupRecords = make(map[string]bool)
	for key, group := range c.RecordsByNumber {
		if len(group) > 1 {
			dupRecords[key] = true
		}
	}
	return dupUsers, dupRecords
}

func poolID(p *directory.Pool) string {
	if p == nil {
		return ""
	}
	return p.ID
}
