// Package plan turns audit findings into an ordered, operator-editable
// remediation plan. Building a plan never touches the API: it is a pure
// function of the audit snapshot, so rebuilding from the same snapshot
// yields an identical plan.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dialplan/extaudit/pkg/audit"
)

// Action is the remediation an item proposes. Values are stable strings so
// plan files survive operator editing and version drift.
type Action string

const (
	// ActionNone leaves the user untouched.
	ActionNone Action = "none"
	// ActionReassertExisting re-writes the user's current number unchanged,
	// prompting the platform to resync the ownership record.
	ActionReassertExisting Action = "reassert"
	// ActionAssignSpecific writes a specific replacement number.
	ActionAssignSpecific Action = "assign"
	// ActionClearNumber clears the user's profile number.
	ActionClearNumber Action = "clear"
)

// ParseAction validates an action string.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionNone:
		return ActionNone, true
	case ActionReassertExisting:
		return ActionReassertExisting, true
	case ActionAssignSpecific:
		return ActionAssignSpecific, true
	case ActionClearNumber:
		return ActionClearNumber, true
	}
	return "", false
}

// Item categories, in plan order.
const (
	CategoryDuplicateUser = "DuplicateUser"
	CategoryMissing       = "Missing"
	CategoryDiscrepancy   = "Discrepancy"
	CategoryReassert      = "Reassert"
)

// Item is one planned remediation. Action and RecommendedNumber are the
// operator-editable fields; everything else is snapshot context.
type Item struct {
	Category string `json:"category" yaml:"category"`
	UserID   string `json:"user_id" yaml:"user_id"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`

	CurrentNumber     string `json:"current_number,omitempty" yaml:"current_number,omitempty"`
	RecommendedNumber string `json:"recommended_number,omitempty" yaml:"recommended_number,omitempty"`
	Action            Action `json:"action" yaml:"action"`

	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Plan is the ordered remediation plan plus the unconsumed remainder of the
// available-number pool.
type Plan struct {
	Kind  audit.Kind `json:"kind" yaml:"kind"`
	Items []Item     `json:"items" yaml:"items"`

	// AvailableNumbers is the full sorted pool the builder drew from,
	// recorded so reviewers can hand-assign from it.
	AvailableNumbers []string `json:"available_numbers,omitempty" yaml:"available_numbers,omitempty"`

	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// Options tunes plan construction.
type Options struct {
	// ReassertConsistent adds reassert items for users whose assignment is
	// already consistent, forcing a platform resync.
	ReassertConsistent bool
	// PreferAssign draws replacement numbers from the available pool instead
	// of clearing, until the pool runs dry.
	PreferAssign bool
}

// Build derives a plan from the snapshot. Stage order is duplicate-user
// groups, then missing assignments, then discrepancies, then the optional
// reassert sweep; the available pool is consumed first-in-first-out across
// all stages.
func Build(c *audit.Context, opts Options) *Plan {
	dupUsers := c.DuplicateUserAssignments()
	dupRecords := c.DuplicateRecords()
	discrepancies := c.Discrepancies()
	missing := c.MissingAssignments()

	dupUserNumbers := make(map[string]bool, len(dupUsers))
	for _, d := range dupUsers {
		dupUserNumbers[fold(d.Number)] = true
	}
	dupRecordNumbers := make(map[string]bool, len(dupRecords))
	for _, d := range dupRecords {
		dupRecordNumbers[fold(d.Number)] = true
	}

	available := availableNumbers(c, dupRecordNumbers)
	pool := newPool(available)

	takeReplacement := func() (string, bool) {
		if !opts.PreferAssign {
			return "", false
		}
		return pool.take()
	}

	var items []Item

	// Duplicate user groups: keep the first user by name, move the rest.
	for _, group := range duplicateGroups(dupUsers) {
		for i := 1; i < len(group); i++ {
			u := group[i]
			item := Item{
				Category:      CategoryDuplicateUser,
				UserID:        u.UserID,
				User:          c.Display(u.UserID),
				CurrentNumber: u.Number,
			}
			if n, ok := takeReplacement(); ok {
				item.RecommendedNumber = n
				item.Action = ActionAssignSpecific
				item.Notes = "Duplicate profile number; reassign to available number."
			} else {
				item.Action = ActionClearNumber
				item.Notes = "Duplicate profile number; no available number found."
			}
			items = append(items, item)
		}
	}

	for _, m := range missing {
		item := Item{
			Category:      CategoryMissing,
			UserID:        m.UserID,
			User:          c.Display(m.UserID),
			CurrentNumber: m.Number,
		}
		if n, ok := takeReplacement(); ok {
			item.RecommendedNumber = n
			item.Action = ActionAssignSpecific
			item.Notes = "No ownership record; assign available number."
		} else {
			item.Action = ActionClearNumber
			item.Notes = "No ownership record; clear profile number."
		}
		items = append(items, item)
	}

	for _, d := range discrepancies {
		notes := "Record owner type is not USER; reassert profile number (sync attempt) or choose a different action."
		if d.Issue == audit.IssueOwnerMismatch {
			notes = "Record owner mismatch; reassert profile number (sync attempt) or choose a different action."
		}
		items = append(items, Item{
			Category:      CategoryDiscrepancy,
			UserID:        d.UserID,
			User:          c.Display(d.UserID),
			CurrentNumber: d.Number,
			Action:        ActionReassertExisting,
			Notes:         notes,
		})
	}

	if opts.ReassertConsistent {
		for _, a := range c.Assignments {
			key := fold(a.Number)
			if dupUserNumbers[key] || dupRecordNumbers[key] {
				continue
			}
			group := c.RecordsFor(a.Number)
			if len(group) != 1 {
				continue
			}
			r := group[0]
			if !strings.EqualFold(r.OwnerType, "USER") {
				continue
			}
			if !strings.EqualFold(r.OwnerID(), a.UserID) {
				continue
			}
			items = append(items, Item{
				Category:          CategoryReassert,
				UserID:            a.UserID,
				User:              c.Display(a.UserID),
				CurrentNumber:     a.Number,
				RecommendedNumber: a.Number,
				Action:            ActionReassertExisting,
				Notes:             "Consistent assignment; reassert profile number (sync attempt).",
			})
		}
	}

	summary := fmt.Sprintf(
		"DuplicateUsers=%d; Missing=%d; Discrepancies=%d; PlanItems=%d; AvailableNumbers=%d",
		len(dupUsers), len(missing), len(discrepancies), len(items), len(available))

	return &Plan{
		Kind:             c.Kind,
		Items:            items,
		AvailableNumbers: available,
		Summary:          summary,
	}
}

// availableNumbers applies the unassigned heuristic: exactly one record for
// the number, not a duplicate-record number, not claimed by any profile, and
// either a blank owner type or USER with a blank owner id.
func availableNumbers(c *audit.Context, dupRecordNumbers map[string]bool) []string {
	used := make(map[string]bool, len(c.Assignments))
	for _, a := range c.Assignments {
		used[fold(a.Number)] = true
	}

	var available []string
	for key, group := range c.RecordsByNumber {
		if dupRecordNumbers[key] || used[key] {
			continue
		}
		if len(group) != 1 {
			continue
		}
		r := group[0]
		ownerType := strings.TrimSpace(r.OwnerType)
		ownerID := strings.TrimSpace(r.OwnerID())

		unassigned := ownerType == "" ||
			(strings.EqualFold(ownerType, "USER") && ownerID == "")
		if unassigned {
			available = append(available, r.Number)
		}
	}

	sort.Slice(available, func(i, j int) bool {
		return fold(available[i]) < fold(available[j])
	})
	return available
}

// duplicateGroups regroups the flat duplicate-user rows by number, ordered
// by number, with members ordered by name then user id. The first member of
// each group is the keeper.
func duplicateGroups(rows []audit.DuplicateUserRow) [][]audit.DuplicateUserRow {
	byNumber := make(map[string][]audit.DuplicateUserRow)
	var order []string
	for _, r := range rows {
		key := fold(r.Number)
		if _, ok := byNumber[key]; !ok {
			order = append(order, key)
		}
		byNumber[key] = append(byNumber[key], r)
	}
	sort.Strings(order)

	groups := make([][]audit.DuplicateUserRow, 0, len(order))
	for _, key := range order {
		group := byNumber[key]
		sort.Slice(group, func(i, j int) bool {
			if a, b := fold(group[i].UserName), fold(group[j].UserName); a != b {
				return a < b
			}
			return fold(group[i].UserID) < fold(group[j].UserID)
		})
		groups = append(groups, group)
	}
	return groups
}

// pool is the first-in-first-out available-number queue.
type pool struct {
	numbers []string
	next    int
}

func newPool(numbers []string) *pool {
	return &pool{numbers: numbers}
}

func (p *pool) take() (string, bool) {
	if p.next >= len(p.numbers) {
		return "", false
	}
	n := p.numbers[p.next]
	p.next++
	return n, true
}

func fold(s string) string {
	return strings.ToLower(s)
}
