package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "sentinel-sos/pkg/domain-errors"
)

// TestParseUUID_Invariants validates that ids accepted at trust boundaries are
// non-empty, well-formed, non-nil UUIDs.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseIncidentID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseSubjectID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseOperatorID(uuid.Nil.String())
		require.Error(t, err)
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseIncidentID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, IncidentID(valid), id)
	})
}

func TestParseAddress(t *testing.T) {
	t.Run("normalizes case and prefix", func(t *testing.T) {
		addr, err := ParseAddress("ABCDEFabcdef0123456789abcdef0123456789ABCD")
		require.NoError(t, err)
		assert.Equal(t, Address("0xabcdefabcdef0123456789abcdef0123456789abcd"), addr)
	})

	t.Run("rejects short address", func(t *testing.T) {
		_, err := ParseAddress("0x1234")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("equal ignores case", func(t *testing.T) {
		assert.True(t, Address("0xAB").Equal(Address("0xab")))
	})
}

func TestLocationValidate(t *testing.T) {
	require.NoError(t, Location{Latitude: 27.17, Longitude: 78.04}.Validate())
	assert.Error(t, Location{Latitude: 91}.Validate())
	assert.Error(t, Location{Longitude: -181}.Validate())
}

func TestIDsRoundTripAsJSONStrings(t *testing.T) {
	id := NewIncidentID()
	raw, err := json.Marshal(map[string]IncidentID{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(raw))

	var decoded map[string]IncidentID
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, id, decoded["id"])

	var bad SubjectID
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &bad))
}
