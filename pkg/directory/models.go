// Package directory provides the typed client and wire models for the
// telephony directory API: user profiles, extension records, and DID
// records, plus the paged envelope the platform wraps list responses in.
package directory

import (
	"encoding/json"
	"time"
)

// Paged is the platform's standard pagination envelope.
type Paged[T any] struct {
	PageCount  int `json:"pageCount"`
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	Entities   []T `json:"entities"`
}

// User is a directory user profile. The platform owns the record; the
// client holds a read-only snapshot plus a working copy created only at
// patch time. Version is a monotonically increasing counter used for
// optimistic concurrency on writes.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Email         string     `json:"email,omitempty"`
	State         string     `json:"state,omitempty"`
	Version       int        `json:"version"`
	Addresses     []Address  `json:"addresses,omitempty"`
	Station       *Station   `json:"station,omitempty"`
	Locations     []Location `json:"locations,omitempty"`
	DateLastLogin *time.Time `json:"dateLastLogin,omitempty"`
}

// Station is a user's default station reference.
type Station struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	SelfURI string `json:"selfUri,omitempty"`
}

// Location is a user's assigned location reference.
type Location struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	SelfURI string `json:"selfUri,omitempty"`
}

// Address is one entry of a user's address list. Unknown fields are kept in
// Extra so a PATCH of the full addresses array never drops platform data we
// do not model.
type Address struct {
	MediaType string
	Type      string
	// Extension is a pointer so a PATCH can carry an explicit null to clear
	// the value.
	Extension *string
	Extra     map[string]json.RawMessage
}

// addressKnown mirrors the modeled Address fields for JSON plumbing.
type addressKnown struct {
	MediaType string  `json:"mediaType,omitempty"`
	Type      string  `json:"type,omitempty"`
	Extension *string `json:"extension"`
}

// UnmarshalJSON keeps unmodeled keys in Extra.
func (a *Address) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var known addressKnown
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	a.MediaType = known.MediaType
	a.Type = known.Type
	a.Extension = known.Extension

	delete(raw, "mediaType")
	delete(raw, "type")
	delete(raw, "extension")
	if len(raw) > 0 {
		a.Extra = raw
	} else {
		a.Extra = nil
	}
	return nil
}

// MarshalJSON merges the modeled fields back over Extra. Extension is always
// emitted so clearing survives the round trip.
func (a Address) MarshalJSON() ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(a.Extra)+3)
	for k, v := range a.Extra {
		merged[k] = v
	}
	if a.MediaType != "" {
		b, _ := json.Marshal(a.MediaType)
		merged["mediaType"] = b
	}
	if a.Type != "" {
		b, _ := json.Marshal(a.Type)
		merged["type"] = b
	}
	b, _ := json.Marshal(a.Extension)
	merged["extension"] = b
	return json.Marshal(merged)
}

// Clone returns a deep copy, including the Extra map.
func (a Address) Clone() Address {
	out := Address{
		MediaType: a.MediaType,
		Type:      a.Type,
	}
	if a.Extension != nil {
		v := *a.Extension
		out.Extension = &v
	}
	if a.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(a.Extra))
		for k, v := range a.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ExtraString reads a string-ish value from the unmodeled fields. Numbers
// and booleans are rendered as their JSON text.
func (a Address) ExtraString(key string) (string, bool) {
	raw, ok := a.Extra[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

// SetExtraString writes a string value into the unmodeled fields.
func (a *Address) SetExtraString(key, value string) {
	if a.Extra == nil {
		a.Extra = make(map[string]json.RawMessage, 1)
	}
	b, _ := json.Marshal(value)
	a.Extra[key] = b
}

// Owner is the owning entity of a number record.
type Owner struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	SelfURI string `json:"selfUri,omitempty"`
}

// Pool is the number pool a record belongs to.
type Pool struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	SelfURI string `json:"selfUri,omitempty"`
}

// OwnershipRecord is the authoritative record stating who, if anyone, owns
// a number. Extension records come off the wire in this shape directly;
// DID records are mapped into it. Immutable within a snapshot.
type OwnershipRecord struct {
	ID        string `json:"id,omitempty"`
	Number    string `json:"number,omitempty"`
	OwnerType string `json:"ownerType,omitempty"`
	Owner     *Owner `json:"owner,omitempty"`
	Pool      *Pool  `json:"extensionPool,omitempty"`
}

// OwnerID returns the owner identifier, or "" when unowned.
func (r *OwnershipRecord) OwnerID() string {
	if r.Owner == nil {
		return ""
	}
	return r.Owner.ID
}

// DID is the wire shape of a DID record. The platform has shipped the
// number under both phoneNumber and number.
type DID struct {
	ID          string `json:"id,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Number      string `json:"number,omitempty"`
	OwnerType   string `json:"ownerType,omitempty"`
	Owner       *Owner `json:"owner,omitempty"`
	DIDPool     *Pool  `json:"didPool,omitempty"`
}

// NumberValue returns the DID number, preferring phoneNumber.
func (d *DID) NumberValue() string {
	if d.PhoneNumber != "" {
		return d.PhoneNumber
	}
	return d.Number
}

// UserPatch is the write body for updating a user's addresses under
// optimistic concurrency.
type UserPatch struct {
	Version   int       `json:"version"`
	Addresses []Address `json:"addresses"`
}
