package audit

import (
	"strings"

	"github.com/dialplan/extaudit/pkg/directory"
)

// Address constants used by profile number extraction.
const (
	mediaTypePhone  = "PHONE"
	addressTypeWork = "WORK"
)

// Keys the platform has used for the raw DID value inside an address entry.
var didExtraKeys = []string{"address", "phoneNumber", "number"}

// ProfileExtension extracts a user's self-declared extension: a WORK phone
// entry with a non-blank extension wins, else any phone entry with one.
func ProfileExtension(u *directory.User) string {
	var anyPhone string
	for i := range u.Addresses {
		a := &u.Addresses[i]
		if !equalFold(a.MediaType, mediaTypePhone) {
			continue
		}
		ext := ""
		if a.Extension != nil {
			ext = *a.Extension
		}
		if blank(ext) {
			continue
		}
		if equalFold(a.Type, addressTypeWork) {
			return ext
		}
		if anyPhone == "" {
			anyPhone = ext
		}
	}
	return anyPhone
}

// ProfileDID extracts a user's self-declared DID with the same WORK-first
// priority, reading the raw number field and normalizing it.
func ProfileDID(u *directory.User) string {
	var anyPhone string
	for i := range u.Addresses {
		a := &u.Addresses[i]
		if !equalFold(a.MediaType, mediaTypePhone) {
			continue
		}
		did := NormalizeDID(addressDID(a))
		if blank(did) {
			continue
		}
		if equalFold(a.Type, addressTypeWork) {
			return did
		}
		if anyPhone == "" {
			anyPhone = did
		}
	}
	return anyPhone
}

// addressDID reads the raw DID value from an address entry's unmodeled
// fields, trying the keys the platform has shipped it under.
func addressDID(a *directory.Address) string {
	for _, key := range didExtraKeys {
		if v, ok := a.ExtraString(key); ok && !blank(v) {
			return v
		}
	}
	return ""
}

// NormalizeDID strips formatting from a dialable number, keeping digits and
// a single leading '+'. When nothing survives, the trimmed raw string is
// returned so oddball values still group consistently.
func NormalizeDID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '+' && b.Len() == 0 {
			b.WriteByte(c)
			continue
		}
		if c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}

	normalized := b.String()
	if normalized == "" || normalized == "+" {
		return s
	}
	return normalized
}

// MapDIDToRecord converts a DID wire record into the common ownership
// record shape. Returns false when the record has no usable number.
func MapDIDToRecord(d *directory.DID) (directory.OwnershipRecord, bool) {
	n := d.NumberValue()
	if blank(n) {
		return directory.OwnershipRecord{}, false
	}
	return directory.OwnershipRecord{
		ID:        d.ID,
		Number:    NormalizeDID(n),
		OwnerType: d.OwnerType,
		Owner:     d.Owner,
		Pool:      d.DIDPool,
	}, true
}

// userDisplay formats a user for operator-facing rows: "Name <email>".
func userDisplay(u *directory.User) string {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = "(no name)"
	}
	if email := strings.TrimSpace(u.Email); email != "" {
		return name + " <" + email + ">"
	}
	return name
}
