package wire_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwrt/webauthn-helper/internal/apperr"
	"github.com/openwrt/webauthn-helper/internal/wire"
)

func TestEmitSuccessEnvelope(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.Emit(&buf, wire.Success(wire.DeleteData{CredentialID: "abc"})))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, true, decoded["success"])
	assert.Nil(t, decoded["error"])
	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", data["credentialId"])
}

func TestEmitFailureEnvelope(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.Emit(&buf, wire.Failure(apperr.CodeChallengeNotFound, "challenge expired")))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.Nil(t, decoded["data"])
	errObj, ok := decoded["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(apperr.CodeChallengeNotFound), errObj["code"])
	assert.Equal(t, "challenge expired", errObj["message"])
}
