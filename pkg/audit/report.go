package audit

import (
	"fmt"
	"time"
)

// Dry-run row actions.
const (
	ActionPatchResync  = "PatchUserResyncNumber"
	ActionReportOnly   = "ReportOnly"
	ActionManualReview = "ManualReview"
)

// Dry-run row categories for the non-discrepancy rows. Discrepancy rows
// carry their issue classification as the category.
const (
	CategoryMissingAssignment = "MissingAssignment"
	CategoryDuplicateUser     = "DuplicateUserAssignment"
	CategoryDuplicateRecords  = "DuplicateNumberRecords"
)

// ReportMetadata describes the snapshot a report was derived from.
type ReportMetadata struct {
	GeneratedAt            string `json:"generated_at"`
	APIBaseURI             string `json:"api_base_uri,omitempty"`
	Kind                   Kind   `json:"kind"`
	UsersTotal             int    `json:"users_total"`
	UsersWithProfileNumber int    `json:"users_with_profile_number"`
	DistinctProfileNumbers int    `json:"distinct_profile_numbers"`
	RecordsLoaded          int    `json:"records_loaded"`
}

// ReportSummary is the headline counts of a dry-run report.
type ReportSummary struct {
	TotalRows          int `json:"total_rows"`
	MissingAssignments int `json:"missing_assignments"`
	Discrepancies      int `json:"discrepancies"`
	DuplicateUserRows  int `json:"duplicate_user_rows"`
	DuplicateRecords   int `json:"duplicate_record_rows"`
	UserIssues         int `json:"user_issues"`
}

// ReportRow is one reviewable line of a dry-run report: the proposed action
// for a finding plus the before/after context an operator needs to judge it.
type ReportRow struct {
	Action   string `json:"action"`
	Category string `json:"category"`
	UserID   string `json:"user_id,omitempty"`
	User     string `json:"user,omitempty"`
	Number   string `json:"number"`

	// BeforeRecordFound is nil when record presence is not meaningful for
	// the category (duplicate user groups).
	BeforeRecordFound *bool  `json:"before_record_found,omitempty"`
	BeforeOwner       string `json:"before_owner,omitempty"`

	AfterExpected string `json:"after_expected"`
	Notes         string `json:"notes,omitempty"`
}

// Report aggregates every finding category into reviewable rows. It changes
// nothing; operators use it to decide what a subsequent apply would touch.
type Report struct {
	Metadata ReportMetadata `json:"metadata"`
	Summary  ReportSummary  `json:"summary"`

	Rows []ReportRow `json:"rows"`

	MissingAssignments       []MissingAssignmentRow `json:"missing_assignments"`
	Discrepancies            []DiscrepancyRow       `json:"discrepancies"`
	DuplicateUserAssignments []DuplicateUserRow     `json:"duplicate_user_assignments"`
	DuplicateRecords         []DuplicateRecordRow   `json:"duplicate_records"`
	UserIssues               []UserIssueRow         `json:"user_issues"`
}

// BuildReport derives the full dry-run report from the snapshot. Row order
// is missing, then discrepancies, then duplicate users, then duplicate
// records; within each block the finding order is already deterministic.
func (c *Context) BuildReport(apiBaseURI string, now time.Time) *Report {
	dupUsers := c.DuplicateUserAssignments()
	dupRecords := c.DuplicateRecords()
	discrepancies := c.Discrepancies()
	missing := c.MissingAssignments()
	userIssues := c.UserIssues(now)

	rows := make([]ReportRow, 0, len(missing)+len(discrepancies)+len(dupUsers)+len(dupRecords))

	for _, m := range missing {
		rows = append(rows, ReportRow{
			Action:            ActionPatchResync,
			Category:          CategoryMissingAssignment,
			UserID:            m.UserID,
			User:              c.Display(m.UserID),
			Number:            m.Number,
			BeforeRecordFound: boolPtr(false),
			AfterExpected:     fmt.Sprintf("User PATCH reasserts number %s (sync attempt)", m.Number),
			Notes:             "Primary target",
		})
	}

	for _, d := range discrepancies {
		beforeOwner := d.RecordOwnerID
		if !blank(beforeOwner) {
			beforeOwner = c.Display(beforeOwner)
		}
		rows = append(rows, ReportRow{
			Action:            ActionReportOnly,
			Category:          d.Issue,
			UserID:            d.UserID,
			User:              c.Display(d.UserID),
			Number:            d.Number,
			BeforeRecordFound: boolPtr(true),
			BeforeOwner:       beforeOwner,
			AfterExpected:     "N/A (record endpoints not reliably writable; fix via user assignment process)",
			Notes:             fmt.Sprintf("RecordId=%s; OwnerType=%s", d.RecordID, d.RecordOwnerType),
		})
	}

	for _, d := range dupUsers {
		rows = append(rows, ReportRow{
			Action:        ActionManualReview,
			Category:      CategoryDuplicateUser,
			UserID:        d.UserID,
			User:          c.Display(d.UserID),
			Number:        d.Number,
			AfterExpected: "Manual decision required",
			Notes:         "Same number present on multiple users",
		})
	}

	for _, d := range dupRecords {
		beforeOwner := d.OwnerID
		if !blank(beforeOwner) {
			beforeOwner = c.Display(beforeOwner)
		}
		rows = append(rows, ReportRow{
			Action:            ActionManualReview,
			Category:          CategoryDuplicateRecords,
			Number:            d.Number,
			BeforeRecordFound: boolPtr(true),
			BeforeOwner:       beforeOwner,
			AfterExpected:     "Manual decision required",
			Notes:             fmt.Sprintf("Multiple records exist for number; RecordId=%s", d.RecordID),
		})
	}

	s := c.Summary()
	return &Report{
		Metadata: ReportMetadata{
			GeneratedAt:            now.Format("2006-01-02 15:04:05"),
			APIBaseURI:             apiBaseURI,
			Kind:                   c.Kind,
			UsersTotal:             s.UsersTotal,
			UsersWithProfileNumber: s.UsersWithProfileNumber,
			DistinctProfileNumbers: s.DistinctProfileNumbers,
			RecordsLoaded:          s.RecordsLoaded,
		},
		Summary: ReportSummary{
			TotalRows:          len(rows),
			MissingAssignments: len(missing),
			Discrepancies:      len(discrepancies),
			DuplicateUserRows:  len(dupUsers),
			DuplicateRecords:   len(dupRecords),
			UserIssues:         len(userIssues),
		},
		Rows:                     rows,
		MissingAssignments:       missing,
		Discrepancies:            discrepancies,
		DuplicateUserAssignments: dupUsers,
		DuplicateRecords:         dupRecords,
		UserIssues:               userIssues,
	}
}

func boolPtr(b bool) *bool { return &b }
