package activity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndReason_String(t *testing.T) {
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "EndReason(7)", EndReason(7).String())
}

func TestEndReason_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]EndReason{"reason": Expired})
	require.NoError(t, err)
	assert.JSONEq(t, `{"reason":"expired"}`, string(data))

	var r EndReason
	require.NoError(t, r.UnmarshalText([]byte("normal")))
	assert.Equal(t, Normal, r)
	assert.Error(t, r.UnmarshalText([]byte("bogus")))

	_, err = EndReason(9).MarshalText()
	assert.Error(t, err)
}
