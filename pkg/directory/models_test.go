package directory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTripPreservesUnknownFields(t *testing.T) {
	wire := `{"mediaType":"PHONE","type":"WORK","extension":"4321","address":"+15550100","display":"+1 555-0100","acceptsSMS":false}`

	var a Address
	require.NoError(t, json.Unmarshal([]byte(wire), &a))

	assert.Equal(t, "PHONE", a.MediaType)
	assert.Equal(t, "WORK", a.Type)
	require.NotNil(t, a.Extension)
	assert.Equal(t, "4321", *a.Extension)

	addr, ok := a.ExtraString("address")
	assert.True(t, ok)
	assert.Equal(t, "+15550100", addr)

	out, err := json.Marshal(a)
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &got))
	assert.JSONEq(t, `"+15550100"`, string(got["address"]))
	assert.JSONEq(t, `"+1 555-0100"`, string(got["display"]))
	assert.JSONEq(t, `false`, string(got["acceptsSMS"]))
	assert.JSONEq(t, `"4321"`, string(got["extension"]))
}

func TestAddressMarshalEmitsExplicitNullExtension(t *testing.T) {
	a := Address{MediaType: "PHONE", Type: "WORK"}

	out, err := json.Marshal(a)
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &got))

	raw, ok := got["extension"]
	require.True(t, ok, "extension key must always be present")
	assert.Equal(t, "null", string(raw))
}

func TestAddressCloneIsIndependent(t *testing.T) {
	ext := "100"
	a := Address{MediaType: "PHONE", Type: "WORK", Extension: &ext}
	a.SetExtraString("address", "+15550100")

	b := a.Clone()
	*b.Extension = "200"
	b.SetExtraString("address", "+15550199")

	assert.Equal(t, "100", *a.Extension)
	addr, _ := a.ExtraString("address")
	assert.Equal(t, "+15550100", addr)
}

func TestExtraString(t *testing.T) {
	var a Address
	require.NoError(t, json.Unmarshal([]byte(`{"address":"+1555","countryCode":1,"verified":true,"gone":null}`), &a))

	v, ok := a.ExtraString("address")
	assert.True(t, ok)
	assert.Equal(t, "+1555", v)

	// Non-string values come back as their JSON text.
	v, ok = a.ExtraString("countryCode")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	v, ok = a.ExtraString("verified")
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	_, ok = a.ExtraString("gone")
	assert.False(t, ok)

	_, ok = a.ExtraString("absent")
	assert.False(t, ok)
}

func TestOwnershipRecordOwnerID(t *testing.T) {
	r := OwnershipRecord{}
	assert.Empty(t, r.OwnerID())

	r.Owner = &Owner{ID: "u1"}
	assert.Equal(t, "u1", r.OwnerID())
}

func TestDIDNumberValuePrefersPhoneNumber(t *testing.T) {
	d := DID{PhoneNumber: "+15550100", Number: "+15550199"}
	assert.Equal(t, "+15550100", d.NumberValue())

	d = DID{Number: "+15550199"}
	assert.Equal(t, "+15550199", d.NumberValue())
}
