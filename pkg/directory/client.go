package directory

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dialplan/extaudit/internal/transport"
	"github.com/dialplan/extaudit/pkg/errors"
)

// API endpoint paths.
const (
	usersPath      = "/api/v2/users"
	extensionsPath = "/api/v2/telephony/providers/edges/extensions"
	didsPath       = "/api/v2/telephony/providers/edges/dids"
)

// userExpand asks the users endpoint for the related entities the audit
// inspects: default station, locations, and last token issue time.
const userExpand = "station,locations,lasttokenissued"

// Client is the typed directory API client. All I/O goes through the
// resilient transport; this layer only knows paths and payload shapes.
type Client struct {
	t *transport.Client
}

// NewClient creates a directory client over a configured transport.
func NewClient(t *transport.Client) *Client {
	return &Client{t: t}
}

// Stats returns a snapshot of the underlying transport counters.
func (c *Client) Stats() transport.Snapshot {
	return c.t.Stats().Snapshot()
}

// UsersPage fetches one page of users. When includeInactive is false the
// list is filtered to active users server-side.
func (c *Client) UsersPage(ctx context.Context, pageSize, pageNumber int, includeInactive bool) (*Paged[User], error) {
	state := ""
	if !includeInactive {
		state = "&state=active"
	}
	path := fmt.Sprintf("%s?pageSize=%d&pageNumber=%d%s&expand=%s", usersPath, pageSize, pageNumber, state, userExpand)

	var page Paged[User]
	if err := c.t.Send(ctx, "GET", path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// User fetches a single user by id.
func (c *Client) User(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.t.Send(ctx, "GET", usersPath+"/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, errors.NewNotFoundError("user", id)
	}
	return &user, nil
}

// PatchUser updates a user's addresses. The patch carries the bumped
// version; a stale version is rejected by the platform with a 409, surfaced
// as a ConflictError carrying the user and version so callers can report the
// rejection per item.
func (c *Client) PatchUser(ctx context.Context, id string, patch UserPatch) (*User, error) {
	var user User
	if err := c.t.Send(ctx, "PATCH", usersPath+"/"+url.PathEscape(id), patch, &user); err != nil {
		var apiErr *errors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 409 {
			return nil, errors.NewConflictError("user", id, patch.Version, err)
		}
		return nil, err
	}
	return &user, nil
}

// ExtensionsPage fetches one page of extension ownership records.
func (c *Client) ExtensionsPage(ctx context.Context, pageSize, pageNumber int) (*Paged[OwnershipRecord], error) {
	path := fmt.Sprintf("%s?pageSize=%d&pageNumber=%d", extensionsPath, pageSize, pageNumber)

	var page Paged[OwnershipRecord]
	if err := c.t.Send(ctx, "GET", path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DIDsPage fetches one page of DID records.
func (c *Client) DIDsPage(ctx context.Context, pageSize, pageNumber int) (*Paged[DID], error) {
	path := fmt.Sprintf("%s?pageSize=%d&pageNumber=%d", didsPath, pageSize, pageNumber)

	var page Paged[DID]
	if err := c.t.Send(ctx, "GET", path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DIDsByNumber looks up DID records for a specific number. The platform has
// historically varied between query keys, so a 400 on phoneNumber= falls
// back to number=.
func (c *Client) DIDsByNumber(ctx context.Context, number string) (*Paged[DID], error) {
	var page Paged[DID]
	err := c.t.Send(ctx, "GET", didsPath+"?phoneNumber="+url.QueryEscape(number), nil, &page)
	if err == nil {
		return &page, nil
	}

	var apiErr *errors.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 400 {
		page = Paged[DID]{}
		if err := c.t.Send(ctx, "GET", didsPath+"?number="+url.QueryEscape(number), nil, &page); err != nil {
			return nil, err
		}
		return &page, nil
	}
	return nil, err
}
