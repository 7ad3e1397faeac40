package audit

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dialplan/extaudit/pkg/constants"
	"github.com/dialplan/extaudit/pkg/directory"
	"github.com/dialplan/extaudit/pkg/errors"
	"github.com/dialplan/extaudit/pkg/logging"
)

// API is the slice of the directory client the snapshot builder needs.
type API interface {
	UsersPage(ctx context.Context, pageSize, pageNumber int, includeInactive bool) (*directory.Paged[directory.User], error)
	ExtensionsPage(ctx context.Context, pageSize, pageNumber int) (*directory.Paged[directory.OwnershipRecord], error)
	DIDsPage(ctx context.Context, pageSize, pageNumber int) (*directory.Paged[directory.DID], error)
}

// BuildOptions configures a snapshot build.
type BuildOptions struct {
	Kind            Kind
	IncludeInactive bool

	// Page sizes are clamped to the API maximums; zero means maximum.
	UsersPageSize   int
	RecordsPageSize int

	// Progress receives stage descriptions; may be nil.
	Progress *Reporter
}

// Auditor builds snapshots and owns the directory API dependency.
type Auditor struct {
	api API
	log *zerolog.Logger
}

// New creates an Auditor. A nil logger falls back to the default.
func New(api API, log *zerolog.Logger) *Auditor {
	if log == nil {
		log = logging.Default()
	}
	return &Auditor{api: api, log: log}
}

// BuildContext paginates the user list and the ownership-record list to
// exhaustion and assembles the immutable audit snapshot. A 401/403 from
// either stage aborts the whole workflow with an authorization error, since
// nothing downstream is trustworthy without a full snapshot.
func (a *Auditor) BuildContext(ctx context.Context, opts BuildOptions) (*Context, error) {
	usersPageSize := clamp(opts.UsersPageSize, 1, constants.UsersPageSizeMax)
	recordsPageSize := clamp(opts.RecordsPageSize, 1, constants.RecordsPageSizeMax)
	if opts.UsersPageSize <= 0 {
		usersPageSize = constants.UsersPageSizeMax
	}
	if opts.RecordsPageSize <= 0 {
		recordsPageSize = constants.RecordsPageSizeMax
	}
	kind := opts.Kind
	if kind == "" {
		kind = KindExtension
	}

	a.log.Info().
		Str("kind", string(kind)).
		Bool("include_inactive", opts.IncludeInactive).
		Int("users_page_size", usersPageSize).
		Int("records_page_size", recordsPageSize).
		Msg("Building audit context")

	users, err := a.fetchUsers(ctx, usersPageSize, opts.IncludeInactive, opts.Progress)
	if err != nil {
		return nil, err
	}

	if kind == KindDID {
		opts.Progress.Report("Extracting profile DIDs...")
	} else {
		opts.Progress.Report("Extracting profile extensions...")
	}

	c := &Context{
		Kind:            kind,
		IncludeInactive: opts.IncludeInactive,
		Users:           users,
		UsersByID:       make(map[string]*directory.User, len(users)),
		DisplayByID:     make(map[string]string, len(users)),
	}

	seenNumbers := make(map[string]bool)
	for i := range users {
		u := &users[i]
		if u.ID == "" {
			continue
		}
		key := fold(u.ID)
		c.UsersByID[key] = u
		c.DisplayByID[key] = userDisplay(u)

		var number string
		if kind == KindDID {
			number = ProfileDID(u)
		} else {
			number = ProfileExtension(u)
		}
		if blank(number) {
			continue
		}

		c.Assignments = append(c.Assignments, ProfileAssignment{
			UserID:    u.ID,
			UserName:  u.Name,
			UserEmail: u.Email,
			UserState: u.State,
			Number:    number,
		})
		if !seenNumbers[fold(number)] {
			seenNumbers[fold(number)] = true
			c.ProfileNumbers = append(c.ProfileNumbers, number)
		}
	}

	a.log.Info().
		Str("kind", string(kind)).
		Int("users_total", len(users)).
		Int("users_with_profile_number", len(c.Assignments)).
		Int("distinct_profile_numbers", len(c.ProfileNumbers)).
		Msg("User profile numbers collected")

	if kind == KindDID {
		c.Records, err = a.fetchDIDs(ctx, recordsPageSize, opts.Progress)
	} else {
		c.Records, err = a.fetchExtensions(ctx, recordsPageSize, opts.Progress)
	}
	if err != nil {
		return nil, err
	}

	c.RecordsByNumber = make(map[string][]directory.OwnershipRecord)
	for _, r := range c.Records {
		if blank(r.Number) {
			continue
		}
		key := fold(r.Number)
		c.RecordsByNumber[key] = append(c.RecordsByNumber[key], r)
	}

	a.log.Info().
		Int("records_loaded", len(c.Records)).
		Int("distinct_record_numbers", len(c.RecordsByNumber)).
		Msg("Ownership records loaded")

	opts.Progress.Report("Computing findings...")
	return c, nil
}

// fetchUsers paginates the user list to exhaustion.
func (a *Auditor) fetchUsers(ctx context.Context, pageSize int, includeInactive bool, progress *Reporter) ([]directory.User, error) {
	var users []directory.User

	page := 1
	pageCount := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress.Report(fmt.Sprintf("Fetching users page %d...", page))

		resp, err := a.api.UsersPage(ctx, pageSize, page, includeInactive)
		if err != nil {
			if status, ok := authStatus(err); ok {
				return nil, errors.NewAuthorizationError("users", status, err)
			}
			return nil, err
		}
		if resp == nil {
			break
		}

		pageCount = resp.PageCount
		users = append(users, resp.Entities...)

		a.log.Info().
			Int("page_number", page).
			Int("page_count", resp.PageCount).
			Int("entities", len(resp.Entities)).
			Int("total_so_far", len(users)).
			Msg("Users page fetched")

		page++
		if page > pageCount {
			break
		}
	}
	return users, nil
}

// fetchExtensions paginates extension records to exhaustion.
func (a *Auditor) fetchExtensions(ctx context.Context, pageSize int, progress *Reporter) ([]directory.OwnershipRecord, error) {
	var records []directory.OwnershipRecord

	page := 1
	pageCount := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress.Report(fmt.Sprintf("Loading extensions page %d...", page))

		resp, err := a.api.ExtensionsPage(ctx, pageSize, page)
		if err != nil {
			if status, ok := authStatus(err); ok {
				return nil, errors.NewAuthorizationError("extensions", status, err)
			}
			return nil, err
		}
		if resp == nil {
			break
		}

		pageCount = resp.PageCount
		records = append(records, resp.Entities...)

		a.log.Info().
			Int("page_number", page).
			Int("page_count", resp.PageCount).
			Int("entities", len(resp.Entities)).
			Int("total_so_far", len(records)).
			Msg("Extensions page fetched")

		page++
		if page > pageCount {
			break
		}
	}
	return records, nil
}

// fetchDIDs paginates DID records to exhaustion, mapping them into the
// common ownership record shape.
func (a *Auditor) fetchDIDs(ctx context.Context, pageSize int, progress *Reporter) ([]directory.OwnershipRecord, error) {
	var records []directory.OwnershipRecord

	page := 1
	pageCount := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress.Report(fmt.Sprintf("Loading DIDs page %d...", page))

		resp, err := a.api.DIDsPage(ctx, pageSize, page)
		if err != nil {
			if status, ok := authStatus(err); ok {
				return nil, errors.NewAuthorizationError("dids", status, err)
			}
			return nil, err
		}
		if resp == nil {
			break
		}

		pageCount = resp.PageCount
		for i := range resp.Entities {
			if mapped, ok := MapDIDToRecord(&resp.Entities[i]); ok {
				records = append(records, mapped)
			}
		}

		a.log.Info().
			Int("page_number", page).
			Int("page_count", resp.PageCount).
			Int("entities", len(resp.Entities)).
			Int("total_so_far", len(records)).
			Msg("DIDs page fetched")

		page++
		if page > pageCount {
			break
		}
	}
	return records, nil
}

// authStatus reports whether an error is a 401/403 API failure.
func authStatus(err error) (int, bool) {
	var apiErr *errors.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
