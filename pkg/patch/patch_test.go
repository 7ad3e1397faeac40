package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialplan/extaudit/pkg/audit"
	"github.com/dialplan/extaudit/pkg/directory"
	"github.com/dialplan/extaudit/pkg/errors"
	"github.com/dialplan/extaudit/pkg/logging"
	"github.com/dialplan/extaudit/pkg/plan"
)

// fakeDirectory serves users from a map and records every PATCH. Users in
// failPatch fail their PATCH with a server error.
type fakeDirectory struct {
	users     map[string]*directory.User
	failPatch map[string]bool

	patches []directory.UserPatch
	patched []string
}

func newFakeDirectory(users ...*directory.User) *fakeDirectory {
	f := &fakeDirectory{
		users:     make(map[string]*directory.User),
		failPatch: make(map[string]bool),
	}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeDirectory) User(_ context.Context, id string) (*directory.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.NewNotFoundError("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeDirectory) PatchUser(_ context.Context, id string, p directory.UserPatch) (*directory.User, error) {
	if f.failPatch[id] {
		return nil, errors.NewAPIError("PATCH", "/api/v2/users/"+id, 500, "boom")
	}
	f.patches = append(f.patches, p)
	f.patched = append(f.patched, id)
	u := f.users[id]
	u.Version = p.Version
	u.Addresses = p.Addresses
	return u, nil
}

func extUser(id string, version int, ext string) *directory.User {
	u := &directory.User{ID: id, Name: "User " + id, Version: version}
	if ext != "" {
		e := ext
		u.Addresses = []directory.Address{{MediaType: "PHONE", Type: "WORK", Extension: &e}}
	}
	return u
}

func missingSnapshot(users ...*directory.User) *audit.Context {
	c := &audit.Context{
		Kind:            audit.KindExtension,
		UsersByID:       make(map[string]*directory.User),
		DisplayByID:     make(map[string]string),
		RecordsByNumber: make(map[string][]directory.OwnershipRecord),
	}
	for _, u := range users {
		c.Users = append(c.Users, *u)
		c.UsersByID[u.ID] = u
		c.DisplayByID[u.ID] = u.Name
		if n := audit.ProfileExtension(u); n != "" {
			c.Assignments = append(c.Assignments, audit.ProfileAssignment{
				UserID: u.ID, UserName: u.Name, Number: n,
			})
		}
	}
	return c
}

func TestPatchMissingWhatIfMakesNoWrites(t *testing.T) {
	api := newFakeDirectory(extUser("u1", 3, "100"))
	c := missingSnapshot(extUser("u1", 3, "100"))

	e := NewExecutor(api, &logging.Nop)
	res, err := e.PatchMissing(context.Background(), c, Options{WhatIf: true}, nil)
	require.NoError(t, err)

	require.Len(t, res.Updated, 1)
	assert.Equal(t, StatusWhatIf, res.Updated[0].Status)
	assert.Equal(t, 4, res.Updated[0].PatchedVersion)
	assert.Empty(t, api.patches)
	assert.True(t, res.Summary.WhatIf)
}

func TestPatchMissingWritesWithBumpedVersion(t *testing.T) {
	api := newFakeDirectory(extUser("u1", 7, "100"))
	c := missingSnapshot(extUser("u1", 7, "100"))

	e := NewExecutor(api, &logging.Nop)
	res, err := e.PatchMissing(context.Background(), c, Options{}, nil)
	require.NoError(t, err)

	require.Len(t, res.Updated, 1)
	assert.Equal(t, StatusPatched, res.Updated[0].Status)
	require.Len(t, api.patches, 1)
	assert.Equal(t, 8, api.patches[0].Version)
	require.NotEmpty(t, api.patches[0].Addresses)
	require.NotNil(t, api.patches[0].Addresses[0].Extension)
	assert.Equal(t, "100", *api.patches[0].Addresses[0].Extension)
}

func TestPatchMissingSkipsDuplicateUserNumbers(t *testing.T) {
	// Both users claim 100; neither has a record, but patching either would
	// entrench the conflict.
	api := newFakeDirectory(extUser("u1", 1, "100"), extUser("u2", 1, "100"))
	c := missingSnapshot(extUser("u1", 1, "100"), extUser("u2", 1, "100"))

	e := NewExecutor(api, &logging.Nop)
	res, err := e.PatchMissing(context.Background(), c, Options{}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Updated)
	require.Len(t, res.Skipped, 2)
	for _, s := range res.Skipped {
		assert.Equal(t, ReasonDuplicateUser, s.Reason)
	}
	assert.Empty(t, api.patches)
}

func TestPatchMissingMaxUpdatesCap(t *testing.T) {
	var users []*directory.User
	for i := 1; i <= 5; i++ {
		users = append(users, extUser(fmt.Sprintf("u%d", i), 1, fmt.Sprintf("%d00", i)))
	}
	api := newFakeDirectory(users...)
	c := missingSnapshot(users...)

	e := NewExecutor(api, &logging.Nop)
	res, err := e.PatchMissing(context.Background(), c, Options{MaxUpdates: 2}, nil)
	require.NoError(t, err)

	assert.Len(t, res.Updated, 2)
	assert.Len(t, res.Skipped, 3)
	for _, s := range res.Skipped {
		assert.Equal(t, ReasonMaxUpdates, s.Reason)
	}
	assert.Len(t, api.patches, 2)
}

func TestPatchMissingMaxFailuresAborts(t *testing.T) {
	var users []*directory.User
	for i := 1; i <= 5; i++ {
		users = append(users, extUser(fmt.Sprintf("u%d", i), 1, fmt.Sprintf("%d00", i)))
	}
	api := newFakeDirectory(users...)
	api.failPatch["u1"] = true
	api.failPatch["u2"] = true
	c := missingSnapshot(users...)

	e := NewExecutor(api, &logging.Nop)
	res, err := e.PatchMissing(context.Background(), c, Options{MaxFailures: 2}, nil)
	require.NoError(t, err)

	// u1 and u2 fail, then the remaining three are skipped wholesale.
	assert.Len(t, res.Failed, 2)
	assert.Len(t, res.Skipped, 3)
	for _, s := range res.Skipped {
		assert.Equal(t, ReasonMaxFailures, s.Reason)
	}
	assert.Empty(t, res.Updated)
}

func TestPatchFailureIsIsolatedPerItem(t *testing.T) {
	api := newFakeDirectory(extUser("u1", 1, "100"), extUser("u2", 1, "200"))
	api.failPatch["u1"] = true
	c := missingSnapshot(extUser("u1", 1, "100"), extUser("u2", 1, "200"))

	e := NewExecutor(api, &logging.Nop)
	res, err := e.PatchMissing(context.Background(), c, Options{}, nil)
	require.NoError(t, err)

	assert.Len(t, res.Failed, 1)
	assert.Equal(t, "u1", res.Failed[0].UserID)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, "u2", res.Updated[0].UserID)
}

func TestExecutePlanCategorySelection(t *testing.T) {
	api := newFakeDirectory(extUser("u1", 1, "100"), extUser("u2", 1, "200"))
	c := missingSnapshot(extUser("u1", 1, "100"), extUser("u2", 1, "200"))

	p := &plan.Plan{Items: []plan.Item{
		{Category: plan.CategoryMissing, UserID: "u1", CurrentNumber: "100", Action: plan.ActionReassertExisting},
		{Category: plan.CategoryDiscrepancy, UserID: "u2", CurrentNumber: "200", Action: plan.ActionReassertExisting},
	}}

	e := NewExecutor(api, &logging.Nop)
	res, err := e.ExecutePlan(context.Background(), c, p, Options{IncludeMissing: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Summary.TotalPlanItems)
	assert.Equal(t, 1, res.Summary.ItemsTargeted)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, "u1", res.Updated[0].UserID)
}

func TestExecutePlanActions(t *testing.T) {
	api := newFakeDirectory(
		extUser("u1", 1, "100"),
		extUser("u2", 1, "200"),
		extUser("u3", 1, "300"),
	)
	c := missingSnapshot(extUser("u1", 1, "100"), extUser("u2", 1, "200"), extUser("u3", 1, "300"))

	p := &plan.Plan{Items: []plan.Item{
		{Category: plan.CategoryMissing, UserID: "u1", CurrentNumber: "100", Action: plan.ActionReassertExisting},
		{Category: plan.CategoryMissing, UserID: "u2", CurrentNumber: "200", RecommendedNumber: "901", Action: plan.ActionAssignSpecific},
		{Category: plan.CategoryMissing, UserID: "u3", CurrentNumber: "300", Action: plan.ActionClearNumber},
	}}

	e := NewExecutor(api, &logging.Nop)
	res, err := e.ExecutePlan(context.Background(), c, p, Options{IncludeMissing: true}, nil)
	require.NoError(t, err)
	require.Len(t, res.Updated, 3)

	assert.Equal(t, "100", res.Updated[0].Number)
	assert.Equal(t, "901", res.Updated[1].Number)
	assert.Equal(t, ClearedDisplay, res.Updated[2].Number)

	require.Len(t, api.patches, 3)
	assert.Equal(t, "100", *api.patches[0].Addresses[0].Extension)
	assert.Equal(t, "901", *api.patches[1].Addresses[0].Extension)
	// Clear carries an explicit null so the platform drops the value.
	assert.Nil(t, api.patches[2].Addresses[0].Extension)
	data, err := json.Marshal(api.patches[2].Addresses[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"extension":null`)
}

func TestExecutePlanSkipsNoAction(t *testing.T) {
	api := newFakeDirectory(extUser("u1", 1, "100"))
	c := missingSnapshot(extUser("u1", 1, "100"))

	p := &plan.Plan{Items: []plan.Item{
		{Category: plan.CategoryMissing, UserID: "u1", CurrentNumber: "100", Action: plan.ActionNone},
	}}

	e := NewExecutor(api, &logging.Nop)
	res, err := e.ExecutePlan(context.Background(), c, p, Options{IncludeMissing: true}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Updated)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, ReasonNoAction, res.Skipped[0].Reason)
}

func TestExecutePlanSkipsAssignWithoutTarget(t *testing.T) {
	api := newFakeDirectory(extUser("u1", 1, "100"), extUser("u2", 1, "200"))
	c := missingSnapshot(extUser("u1", 1, "100"), extUser("u2", 1, "200"))

	// An assign item with no replacement number must never become an
	// empty-string write; blank and whitespace both count as missing.
	p := &plan.Plan{Items: []plan.Item{
		{Category: plan.CategoryMissing, UserID: "u1", CurrentNumber: "100", Action: plan.ActionAssignSpecific},
		{Category: plan.CategoryMissing, UserID: "u2", CurrentNumber: "200", RecommendedNumber: "  ", Action: plan.ActionAssignSpecific},
	}}

	e := NewExecutor(api, &logging.Nop)
	res, err := e.ExecutePlan(context.Background(), c, p, Options{IncludeMissing: true}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Updated)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Skipped, 2)
	for _, s := range res.Skipped {
		assert.Equal(t, ReasonNoTarget, s.Reason)
	}
	assert.Empty(t, api.patches)
}

func TestEnsureWorkPhoneAddress(t *testing.T) {
	t.Run("existing work phone is reused", func(t *testing.T) {
		e := "100"
		addrs := []directory.Address{
			{MediaType: "PHONE", Type: "HOME"},
			{MediaType: "PHONE", Type: "WORK", Extension: &e},
		}
		idx := ensureWorkPhoneAddress(&addrs)
		assert.Equal(t, 1, idx)
		assert.Len(t, addrs, 2)
	})

	t.Run("clones extra fields from another phone entry", func(t *testing.T) {
		home := directory.Address{MediaType: "PHONE", Type: "HOME"}
		home.SetExtraString("countryCode", "US")
		addrs := []directory.Address{home}

		idx := ensureWorkPhoneAddress(&addrs)
		require.Equal(t, 1, idx)
		assert.Equal(t, "WORK", addrs[1].Type)
		v, ok := addrs[1].ExtraString("countryCode")
		assert.True(t, ok)
		assert.Equal(t, "US", v)
		// Original HOME entry is untouched.
		assert.Equal(t, "HOME", addrs[0].Type)
	})

	t.Run("creates bare entry when no phones exist", func(t *testing.T) {
		addrs := []directory.Address{{MediaType: "EMAIL", Type: "WORK"}}
		idx := ensureWorkPhoneAddress(&addrs)
		require.Equal(t, 1, idx)
		assert.Equal(t, "PHONE", addrs[1].MediaType)
		assert.Equal(t, "WORK", addrs[1].Type)
	})
}

func TestVerifyClassification(t *testing.T) {
	confirmed := extUser("u1", 2, "100")
	mismatch := extUser("u2", 2, "999")
	cleared := extUser("u3", 2, "")
	api := newFakeDirectory(confirmed, mismatch, cleared)

	e := NewExecutor(api, &logging.Nop)
	updated := []UpdatedRow{
		{UserID: "u1", Number: "100", Status: StatusPatched},
		{UserID: "u2", Number: "200", Status: StatusPatched},
		{UserID: "u3", Number: ClearedDisplay, Status: StatusPatched},
		{UserID: "missing", Number: "300", Status: StatusPatched},
	}

	v, err := e.Verify(context.Background(), audit.KindExtension, updated, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, v.TotalVerified)
	assert.Equal(t, 2, v.Confirmed) // u1 exact, u3 cleared-matches-blank
	assert.Equal(t, 1, v.Mismatched)
	assert.Equal(t, 1, v.UserNotFound)

	byUser := make(map[string]VerificationItem)
	for _, item := range v.Items {
		byUser[item.UserID] = item
	}
	assert.Equal(t, VerifyConfirmed, byUser["u1"].Status)
	assert.Equal(t, VerifyMismatch, byUser["u2"].Status)
	assert.Equal(t, VerifyConfirmed, byUser["u3"].Status)
	assert.Equal(t, VerifyUserNotFound, byUser["missing"].Status)
}

func TestNumbersMatch(t *testing.T) {
	assert.True(t, numbersMatch("100", "100"))
	assert.True(t, numbersMatch("abc", "ABC"))
	assert.True(t, numbersMatch(ClearedDisplay, ""))
	assert.True(t, numbersMatch("", "  "))
	assert.False(t, numbersMatch(ClearedDisplay, "100"))
	assert.False(t, numbersMatch("100", ""))
	assert.False(t, numbersMatch("100", "200"))
}
