// Package patch applies remediation plans to user profiles through the
// directory API. Every write runs under guardrails: what-if simulation by
// default, max-update and max-failure caps, optimistic concurrency on the
// user version, and per-item failure isolation so one bad user never aborts
// a batch.
package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dialplan/extaudit/pkg/audit"
	"github.com/dialplan/extaudit/pkg/constants"
	"github.com/dialplan/extaudit/pkg/directory"
	"github.com/dialplan/extaudit/pkg/logging"
	"github.com/dialplan/extaudit/pkg/plan"
)

// Row statuses.
const (
	StatusPatched = "Patched"
	StatusWhatIf  = "WhatIf"
)

// Skip reasons.
const (
	ReasonMaxFailures   = "MaxFailuresReached"
	ReasonMaxUpdates    = "MaxUpdatesReached"
	ReasonDuplicateUser = "DuplicateUserAssignment"
	ReasonNoAction      = "NoActionSelected"
	ReasonNoTarget      = "NoTargetExtension"
)

// ClearedDisplay stands in for an intentionally blank number in rows.
const ClearedDisplay = "(cleared)"

// API is the slice of the directory client the executor needs.
type API interface {
	User(ctx context.Context, id string) (*directory.User, error)
	PatchUser(ctx context.Context, id string, p directory.UserPatch) (*directory.User, error)
}

// Options are the executor guardrails. Zero caps mean unlimited.
type Options struct {
	// WhatIf simulates: targets are resolved and versions computed but no
	// write is sent.
	WhatIf bool
	// Sleep is the pause between consecutive writes.
	Sleep time.Duration
	// MaxUpdates caps successful (or simulated) updates per run.
	MaxUpdates int
	// MaxFailures aborts the run once this many items have failed.
	MaxFailures int

	// Category selection for plan execution.
	IncludeMissing       bool
	IncludeDuplicateUser bool
	IncludeDiscrepancy   bool
	IncludeReassert      bool
}

// DefaultOptions returns the safe defaults: simulate everything, target only
// the missing category.
func DefaultOptions() Options {
	return Options{
		WhatIf:         true,
		Sleep:          constants.DefaultPatchSleep,
		IncludeMissing: true,
	}
}

// UpdatedRow records one applied (or simulated) update.
type UpdatedRow struct {
	UserID         string `json:"user_id"`
	User           string `json:"user,omitempty"`
	Number         string `json:"number"`
	Status         string `json:"status"`
	PatchedVersion int    `json:"patched_version"`
}

// SkippedRow records an item the executor deliberately did not touch.
type SkippedRow struct {
	Reason string `json:"reason"`
	UserID string `json:"user_id"`
	User   string `json:"user,omitempty"`
	Number string `json:"number,omitempty"`
}

// FailedRow records a per-item failure.
type FailedRow struct {
	UserID string `json:"user_id"`
	User   string `json:"user,omitempty"`
	Number string `json:"number,omitempty"`
	Error  string `json:"error"`
}

// Summary is the headline counts of a run.
type Summary struct {
	MissingFound   int  `json:"missing_found,omitempty"`
	TotalPlanItems int  `json:"total_plan_items,omitempty"`
	ItemsTargeted  int  `json:"items_targeted,omitempty"`
	Updated        int  `json:"updated"`
	Skipped        int  `json:"skipped"`
	Failed         int  `json:"failed"`
	WhatIf         bool `json:"what_if"`
}

// Result is the full outcome of a patch run.
type Result struct {
	Summary Summary      `json:"summary"`
	Updated []UpdatedRow `json:"updated"`
	Skipped []SkippedRow `json:"skipped"`
	Failed  []FailedRow  `json:"failed"`
}

// Executor applies plans and missing-assignment batches.
type Executor struct {
	api API
	log *zerolog.Logger
}

// NewExecutor creates an Executor. A nil logger falls back to the default.
func NewExecutor(api API, log *zerolog.Logger) *Executor {
	if log == nil {
		log = logging.Default()
	}
	return &Executor{api: api, log: log}
}

// ExecutePlan applies the selected categories of a reviewed plan, in plan
// order. Returns an error only on caller cancellation; item failures are
// recorded in the result.
func (e *Executor) ExecutePlan(ctx context.Context, c *audit.Context, p *plan.Plan, opts Options, progress *audit.Reporter) (*Result, error) {
	var targets []plan.Item
	for _, item := range p.Items {
		if includeCategory(item.Category, opts) {
			targets = append(targets, item)
		}
	}

	res := &Result{}
	done := 0

	for i, item := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if opts.MaxFailures > 0 && len(res.Failed) >= opts.MaxFailures {
			for _, rest := range targets[i:] {
				res.Skipped = append(res.Skipped, SkippedRow{
					Reason: ReasonMaxFailures,
					UserID: rest.UserID,
					User:   displayOr(rest.User, rest.UserID),
					Number: rest.CurrentNumber,
				})
			}
			break
		}

		if opts.MaxUpdates > 0 && done >= opts.MaxUpdates {
			res.Skipped = append(res.Skipped, SkippedRow{
				Reason: ReasonMaxUpdates,
				UserID: item.UserID,
				User:   displayOr(item.User, item.UserID),
				Number: item.CurrentNumber,
			})
			continue
		}

		target, skip := targetNumber(item)
		if skip != "" {
			res.Skipped = append(res.Skipped, SkippedRow{
				Reason: skip,
				UserID: item.UserID,
				User:   displayOr(item.User, item.UserID),
				Number: item.CurrentNumber,
			})
			continue
		}

		progress.Report(fmt.Sprintf("Patching %d/%d: %s [%s]", i+1, len(targets), displayOr(item.User, item.UserID), item.Category))

		row, err := e.patchOne(ctx, c.Kind, item.UserID, displayOr(item.User, item.UserID), target, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Failed = append(res.Failed, FailedRow{
				UserID: item.UserID,
				User:   displayOr(item.User, item.UserID),
				Number: item.CurrentNumber,
				Error:  err.Error(),
			})
			e.log.Error().Err(err).
				Str("user_id", item.UserID).
				Str("category", item.Category).
				Str("number", item.CurrentNumber).
				Msg("Plan item patch failed")
			continue
		}

		res.Updated = append(res.Updated, *row)
		done++

		if !opts.WhatIf && opts.Sleep > 0 {
			if err := sleepCtx(ctx, opts.Sleep); err != nil {
				return nil, err
			}
		}
	}

	res.Summary = Summary{
		TotalPlanItems: len(p.Items),
		ItemsTargeted:  len(targets),
		Updated:        len(res.Updated),
		Skipped:        len(res.Skipped),
		Failed:         len(res.Failed),
		WhatIf:         opts.WhatIf,
	}
	return res, nil
}

// PatchMissing re-asserts the profile number for every missing-assignment
// finding without building a plan first. Numbers implicated in a
// duplicate-user group are skipped: writing any of them would entrench the
// conflict.
func (e *Executor) PatchMissing(ctx context.Context, c *audit.Context, opts Options, progress *audit.Reporter) (*Result, error) {
	missing := c.MissingAssignments()

	dupNumbers := make(map[string]bool)
	for _, d := range c.DuplicateUserAssignments() {
		dupNumbers[foldKey(d.Number)] = true
	}

	res := &Result{}
	done := 0

	for i, m := range missing {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if opts.MaxFailures > 0 && len(res.Failed) >= opts.MaxFailures {
			for _, rest := range missing[i:] {
				res.Skipped = append(res.Skipped, SkippedRow{
					Reason: ReasonMaxFailures,
					UserID: rest.UserID,
					User:   c.Display(rest.UserID),
					Number: rest.Number,
				})
			}
			break
		}

		if dupNumbers[foldKey(m.Number)] {
			res.Skipped = append(res.Skipped, SkippedRow{
				Reason: ReasonDuplicateUser,
				UserID: m.UserID,
				User:   c.Display(m.UserID),
				Number: m.Number,
			})
			continue
		}

		if opts.MaxUpdates > 0 && done >= opts.MaxUpdates {
			res.Skipped = append(res.Skipped, SkippedRow{
				Reason: ReasonMaxUpdates,
				UserID: m.UserID,
				User:   c.Display(m.UserID),
				Number: m.Number,
			})
			continue
		}

		progress.Report(fmt.Sprintf("Patching %d/%d: %s", i+1, len(missing), c.Display(m.UserID)))

		number := m.Number
		row, err := e.patchOne(ctx, c.Kind, m.UserID, c.Display(m.UserID), &number, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Failed = append(res.Failed, FailedRow{
				UserID: m.UserID,
				User:   c.Display(m.UserID),
				Number: m.Number,
				Error:  err.Error(),
			})
			e.log.Error().Err(err).
				Str("user_id", m.UserID).
				Str("number", m.Number).
				Msg("Missing-assignment patch failed")
			continue
		}

		res.Updated = append(res.Updated, *row)
		done++

		if !opts.WhatIf && opts.Sleep > 0 {
			if err := sleepCtx(ctx, opts.Sleep); err != nil {
				return nil, err
			}
		}
	}

	res.Summary = Summary{
		MissingFound: len(missing),
		Updated:      len(res.Updated),
		Skipped:      len(res.Skipped),
		Failed:       len(res.Failed),
		WhatIf:       opts.WhatIf,
	}
	return res, nil
}

// patchOne performs the full single-user cycle: fresh GET, clone addresses,
// locate or create the work phone entry, set the target number, bump the
// version, then PATCH (or simulate). target nil clears the number.
func (e *Executor) patchOne(ctx context.Context, kind audit.Kind, userID, display string, target *string, opts Options) (*UpdatedRow, error) {
	user, err := e.api.User(ctx, userID)
	if err != nil {
		return nil, err
	}

	addresses := cloneAddresses(user.Addresses)
	idx := ensureWorkPhoneAddress(&addresses)

	before := numberOf(kind, &addresses[idx])
	setNumber(kind, &addresses[idx], target)

	e.log.Info().
		Str("kind", string(kind)).
		Str("user_id", userID).
		Str("before", before).
		Str("after", displayNumber(target)).
		Msg("Preparing user profile PATCH")

	version := user.Version + 1

	if opts.WhatIf {
		return &UpdatedRow{
			UserID:         userID,
			User:           display,
			Number:         displayNumber(target),
			Status:         StatusWhatIf,
			PatchedVersion: version,
		}, nil
	}

	if _, err := e.api.PatchUser(ctx, userID, directory.UserPatch{
		Version:   version,
		Addresses: addresses,
	}); err != nil {
		return nil, err
	}

	return &UpdatedRow{
		UserID:         userID,
		User:           display,
		Number:         displayNumber(target),
		Status:         StatusPatched,
		PatchedVersion: version,
	}, nil
}

// targetNumber resolves the write target for a plan item. A non-empty skip
// reason means the item proposes no write: an assign item with a blank
// recommended number must never turn into an empty-string write.
func targetNumber(item plan.Item) (*string, string) {
	switch item.Action {
	case plan.ActionReassertExisting:
		n := item.CurrentNumber
		return &n, ""
	case plan.ActionAssignSpecific:
		if strings.TrimSpace(item.RecommendedNumber) == "" {
			return nil, ReasonNoTarget
		}
		n := item.RecommendedNumber
		return &n, ""
	case plan.ActionClearNumber:
		return nil, ""
	}
	return nil, ReasonNoAction
}

// ensureWorkPhoneAddress finds the PHONE/WORK entry, appending one when
// absent. A new entry clones the Extra fields of an existing phone entry so
// platform data rides along; HOME and OTHER entries are never overwritten.
func ensureWorkPhoneAddress(addresses *[]directory.Address) int {
	for i := range *addresses {
		a := &(*addresses)[i]
		if equalFold(a.MediaType, "PHONE") && equalFold(a.Type, "WORK") {
			return i
		}
	}

	for i := range *addresses {
		a := &(*addresses)[i]
		if equalFold(a.MediaType, "PHONE") {
			entry := directory.Address{MediaType: "PHONE", Type: "WORK"}
			if a.Extra != nil {
				entry.Extra = make(map[string]json.RawMessage, len(a.Extra))
				for k, v := range a.Extra {
					entry.Extra[k] = v
				}
			}
			*addresses = append(*addresses, entry)
			return len(*addresses) - 1
		}
	}

	*addresses = append(*addresses, directory.Address{MediaType: "PHONE", Type: "WORK"})
	return len(*addresses) - 1
}

// setNumber writes the target into the address entry. Extension audits use
// the modeled extension field; DID audits write the raw address field. nil
// clears either way, carried as an explicit JSON null.
func setNumber(kind audit.Kind, a *directory.Address, target *string) {
	if kind == audit.KindDID {
		if target == nil {
			if a.Extra == nil {
				a.Extra = make(map[string]json.RawMessage, 1)
			}
			a.Extra["address"] = json.RawMessage("null")
			return
		}
		a.SetExtraString("address", *target)
		return
	}
	a.Extension = target
}

// numberOf reads the current value of the field setNumber targets.
func numberOf(kind audit.Kind, a *directory.Address) string {
	if kind == audit.KindDID {
		v, _ := a.ExtraString("address")
		return v
	}
	if a.Extension == nil {
		return ""
	}
	return *a.Extension
}

func cloneAddresses(src []directory.Address) []directory.Address {
	out := make([]directory.Address, len(src))
	for i := range src {
		out[i] = src[i].Clone()
	}
	return out
}

func includeCategory(category string, opts Options) bool {
	switch category {
	case plan.CategoryMissing:
		return opts.IncludeMissing
	case plan.CategoryDuplicateUser:
		return opts.IncludeDuplicateUser
	case plan.CategoryDiscrepancy:
		return opts.IncludeDiscrepancy
	case plan.CategoryReassert:
		return opts.IncludeReassert
	}
	return false
}

func displayNumber(target *string) string {
	if target == nil {
		return ClearedDisplay
	}
	return *target
}

func displayOr(display, fallback string) string {
	if display != "" {
		return display
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
