package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialplan/extaudit/pkg/directory"
)

func testUser(id, name, email, ext string) directory.User {
	u := directory.User{ID: id, Name: name, Email: email, State: "active", Version: 1}
	if ext != "" {
		e := ext
		u.Addresses = []directory.Address{{MediaType: "PHONE", Type: "WORK", Extension: &e}}
	}
	return u
}

func testRecord(id, number, ownerType, ownerID string) directory.OwnershipRecord {
	r := directory.OwnershipRecord{ID: id, Number: number, OwnerType: ownerType}
	if ownerID != "" {
		r.Owner = &directory.Owner{ID: ownerID}
	}
	return r
}

// newTestContext assembles a snapshot the way the builder does, from
// already-fetched users and records.
func newTestContext(users []directory.User, records []directory.OwnershipRecord) *Context {
	c := &Context{
		Kind:        KindExtension,
		Users:       users,
		UsersByID:   make(map[string]*directory.User),
		DisplayByID: make(map[string]string),
	}
	for i := range users {
		u := &users[i]
		key := fold(u.ID)
		c.UsersByID[key] = u
		c.DisplayByID[key] = userDisplay(u)
		if n := ProfileExtension(u); !blank(n) {
			c.Assignments = append(c.Assignments, ProfileAssignment{
				UserID:    u.ID,
				UserName:  u.Name,
				UserEmail: u.Email,
				UserState: u.State,
				Number:    n,
			})
			seen := false
			for _, p := range c.ProfileNumbers {
				if fold(p) == fold(n) {
					seen = true
					break
				}
			}
			if !seen {
				c.ProfileNumbers = append(c.ProfileNumbers, n)
			}
		}
	}
	c.Records = records
	c.RecordsByNumber = make(map[string][]directory.OwnershipRecord)
	for _, r := range records {
		if blank(r.Number) {
			continue
		}
		c.RecordsByNumber[fold(r.Number)] = append(c.RecordsByNumber[fold(r.Number)], r)
	}
	return c
}

// mixedScenario is the canonical reconciliation scenario: one number claimed
// twice, one number recorded twice, one owner mismatch, one non-user owner,
// one claim without a record, and one fully consistent pair.
func mixedScenario() *Context {
	users := []directory.User{
		testUser("u1", "Alice", "alice@example.com", "100"),
		testUser("u2", "Bob", "bob@example.com", "100"),
		testUser("u3", "Carol", "carol@example.com", "200"),
		testUser("u4", "Dave", "dave@example.com", "300"),
		testUser("u5", "Erin", "erin@example.com", "400"),
		testUser("u6", "Frank", "frank@example.com", "500"),
	}
	records := []directory.OwnershipRecord{
		testRecord("r100", "100", "USER", "u1"),
		testRecord("r200a", "200", "USER", "u3"),
		testRecord("r200b", "200", "USER", "other"),
		testRecord("r300", "300", "USER", "someone-else"),
		testRecord("r400", "400", "PHONE", ""),
	}
	return newTestContext(users, records)
}

func TestMixedScenarioFindings(t *testing.T) {
	c := mixedScenario()

	dupUsers := c.DuplicateUserAssignments()
	require.Len(t, dupUsers, 2)
	assert.Equal(t, "100", dupUsers[0].Number)
	assert.Equal(t, "u1", dupUsers[0].UserID)
	assert.Equal(t, "u2", dupUsers[1].UserID)

	dupRecords := c.DuplicateRecords()
	require.Len(t, dupRecords, 2)
	assert.Equal(t, "200", dupRecords[0].Number)
	assert.Equal(t, "r200a", dupRecords[0].RecordID)
	assert.Equal(t, "r200b", dupRecords[1].RecordID)

	discrepancies := c.Discrepancies()
	require.Len(t, discrepancies, 2)
	assert.Equal(t, IssueOwnerMismatch, discrepancies[0].Issue)
	assert.Equal(t, "300", discrepancies[0].Number)
	assert.Equal(t, "someone-else", discrepancies[0].RecordOwnerID)
	assert.Equal(t, IssueOwnerTypeNotUser, discrepancies[1].Issue)
	assert.Equal(t, "400", discrepancies[1].Number)

	missing := c.MissingAssignments()
	require.Len(t, missing, 1)
	assert.Equal(t, "500", missing[0].Number)
	assert.Equal(t, "u6", missing[0].UserID)
}

// Numbers in either duplicate set must never surface as discrepancies or
// missing assignments, even when their record state would otherwise qualify.
func TestDuplicateExemption(t *testing.T) {
	users := []directory.User{
		testUser("u1", "Alice", "a@example.com", "700"),
		testUser("u2", "Bob", "b@example.com", "700"),
		testUser("u3", "Carol", "c@example.com", "800"),
	}
	// 700 has no record at all: would be missing if not claimed twice.
	// 800 has two records, one mismatched: would be a discrepancy if unique.
	records := []directory.OwnershipRecord{
		testRecord("r800a", "800", "USER", "other"),
		testRecord("r800b", "800", "USER", "u3"),
	}
	c := newTestContext(users, records)

	assert.Len(t, c.DuplicateUserAssignments(), 2)
	assert.Len(t, c.DuplicateRecords(), 2)
	assert.Empty(t, c.Discrepancies())
	assert.Empty(t, c.MissingAssignments())
}

func TestConsistentAssignmentProducesNoFindings(t *testing.T) {
	users := []directory.User{testUser("u1", "Alice", "a@example.com", "100")}
	records := []directory.OwnershipRecord{testRecord("r1", "100", "USER", "u1")}
	c := newTestContext(users, records)

	assert.Empty(t, c.DuplicateUserAssignments())
	assert.Empty(t, c.DuplicateRecords())
	assert.Empty(t, c.Discrepancies())
	assert.Empty(t, c.MissingAssignments())
}

func TestOwnerComparisonIsCaseInsensitive(t *testing.T) {
	users := []directory.User{testUser("U1", "Alice", "a@example.com", "100")}
	records := []directory.OwnershipRecord{testRecord("r1", "100", "user", "u1")}
	c := newTestContext(users, records)

	assert.Empty(t, c.Discrepancies())
}

// A blank owner id on a USER-typed record is not a mismatch.
func TestBlankOwnerIDIsNotMismatch(t *testing.T) {
	users := []directory.User{testUser("u1", "Alice", "a@example.com", "100")}
	records := []directory.OwnershipRecord{testRecord("r1", "100", "USER", "")}
	c := newTestContext(users, records)

	assert.Empty(t, c.Discrepancies())
}

// Findings must be identical across repeated derivations from the same
// snapshot.
func TestFindingsAreIdempotent(t *testing.T) {
	c := mixedScenario()

	first := c.Discrepancies()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Discrepancies())
		assert.Equal(t, c.DuplicateUserAssignments(), c.DuplicateUserAssignments())
		assert.Equal(t, c.MissingAssignments(), c.MissingAssignments())
	}
}

func TestUserIssues(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	recent := now.AddDate(0, 0, -10)
	stale := now.AddDate(0, 0, -120)

	healthy := testUser("u1", "Alice", "a@example.com", "100")
	healthy.Station = &directory.Station{ID: "st1"}
	healthy.Locations = []directory.Location{{ID: "loc1"}}
	healthy.DateLastLogin = &recent

	bare := testUser("u2", "Bob", "b@example.com", "")
	bare.DateLastLogin = &stale

	c := newTestContext([]directory.User{healthy, bare}, nil)
	issues := c.UserIssues(now)

	byIssue := make(map[string][]string)
	for _, row := range issues {
		byIssue[row.Issue] = append(byIssue[row.Issue], row.UserID)
	}
	assert.Equal(t, []string{"u2"}, byIssue[IssueNoLocationAssigned])
	assert.Equal(t, []string{"u2"}, byIssue[IssueNoDefaultStationAssigned])
	assert.Equal(t, []string{"u2"}, byIssue[IssueNoTokenIssuedInLast90])
}

func TestBuildReportRowActions(t *testing.T) {
	c := mixedScenario()
	report := c.BuildReport("https://api.example.com", time.Now())

	assert.Equal(t, report.Summary.TotalRows, len(report.Rows))
	assert.Equal(t, 1, report.Summary.MissingAssignments)
	assert.Equal(t, 2, report.Summary.Discrepancies)
	assert.Equal(t, 2, report.Summary.DuplicateUserRows)
	assert.Equal(t, 2, report.Summary.DuplicateRecords)

	assert.Equal(t, ActionPatchResync, report.Rows[0].Action)
	assert.Equal(t, CategoryMissingAssignment, report.Rows[0].Category)

	// Owner ids resolve to display strings when the owner is in the snapshot.
	var mismatchRow *ReportRow
	for i := range report.Rows {
		if report.Rows[i].Category == IssueOwnerMismatch {
			mismatchRow = &report.Rows[i]
		}
	}
	require.NotNil(t, mismatchRow)
	assert.Equal(t, "someone-else", mismatchRow.BeforeOwner)
}
