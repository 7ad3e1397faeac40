package patch

import (
	"context"
	"fmt"
	"strings"

	"github.com/dialplan/extaudit/pkg/audit"
	"github.com/dialplan/extaudit/pkg/constants"
	"github.com/dialplan/extaudit/pkg/errors"
)

// Verification statuses.
const (
	VerifyConfirmed    = "Confirmed"
	VerifyMismatch     = "Mismatch"
	VerifyUserNotFound = "UserNotFound"
	VerifyError        = "Error"
)

// VerificationItem compares one user's expected number against what the
// platform returned on re-read.
type VerificationItem struct {
	UserID   string `json:"user_id"`
	User     string `json:"user,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Verification is the outcome of a post-patch verification pass.
type Verification struct {
	TotalVerified int                `json:"total_verified"`
	Confirmed     int                `json:"confirmed"`
	Mismatched    int                `json:"mismatched"`
	UserNotFound  int                `json:"user_not_found"`
	Errors        int                `json:"errors"`
	Items         []VerificationItem `json:"items"`
}

// Verify re-fetches every updated user and checks the profile number against
// what the run wrote. A cleared expectation matches any blank actual value.
// Only real writes are worth verifying; callers should skip this for what-if
// runs.
func (e *Executor) Verify(ctx context.Context, kind audit.Kind, updated []UpdatedRow, progress *audit.Reporter) (*Verification, error) {
	v := &Verification{TotalVerified: len(updated)}

	e.log.Info().Int("count", len(updated)).Msg("Starting post-patch verification")

	for i, row := range updated {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			if err := sleepCtx(ctx, constants.VerifyDelay); err != nil {
				return nil, err
			}
		}

		progress.Report(fmt.Sprintf("Verifying %d/%d: %s", i+1, len(updated), displayOr(row.User, row.UserID)))

		user, err := e.api.User(ctx, row.UserID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			item := VerificationItem{
				UserID:   row.UserID,
				User:     row.User,
				Expected: row.Number,
				Error:    err.Error(),
			}
			if errors.IsNotFound(err) {
				item.Status = VerifyUserNotFound
				v.UserNotFound++
			} else {
				item.Status = VerifyError
				v.Errors++
			}
			v.Items = append(v.Items, item)
			continue
		}

		var actual string
		if kind == audit.KindDID {
			actual = audit.ProfileDID(user)
		} else {
			actual = audit.ProfileExtension(user)
		}

		if numbersMatch(row.Number, actual) {
			v.Confirmed++
			v.Items = append(v.Items, VerificationItem{
				UserID:   row.UserID,
				User:     row.User,
				Expected: row.Number,
				Actual:   displayActual(actual),
				Status:   VerifyConfirmed,
			})
			continue
		}

		v.Mismatched++
		v.Items = append(v.Items, VerificationItem{
			UserID:   row.UserID,
			User:     row.User,
			Expected: row.Number,
			Actual:   displayActual(actual),
			Status:   VerifyMismatch,
			Error:    fmt.Sprintf("expected %q but found %q", row.Number, displayActual(actual)),
		})
		e.log.Warn().
			Str("user_id", row.UserID).
			Str("expected", row.Number).
			Str("actual", displayActual(actual)).
			Msg("Verification mismatch")
	}

	return v, nil
}

// numbersMatch treats a cleared expectation and a blank actual as equal, and
// compares everything else case-insensitively.
func numbersMatch(expected, actual string) bool {
	expectedCleared := strings.TrimSpace(expected) == "" || expected == ClearedDisplay
	actualCleared := strings.TrimSpace(actual) == ""

	if expectedCleared && actualCleared {
		return true
	}
	if expectedCleared || actualCleared {
		return false
	}
	return strings.EqualFold(expected, actual)
}

func displayActual(actual string) string {
	if strings.TrimSpace(actual) == "" {
		return ClearedDisplay
	}
	return actual
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

func foldKey(s string) string {
	return strings.ToLower(s)
}
