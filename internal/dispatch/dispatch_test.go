package dispatch_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwrt/webauthn-helper/internal/dispatch"
)

// run executes dispatch.Run rooted at a scratch WEBAUTHN_ROOT so the test
// never touches /etc/webauthn or /tmp/webauthn (spec §6.4).
func run(t *testing.T, args []string, stdin string) (map[string]any, int) {
	t.Helper()
	t.Setenv("WEBAUTHN_ROOT", t.TempDir())

	var stdout, stderr bytes.Buffer
	code := dispatch.Run(args, strings.NewReader(stdin), &stdout, &stderr)

	var env map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	return env, code
}

// TestEnvelopeTotality exercises spec §8 property 6: every invocation
// produces exactly one JSON object whose top-level success key is a bool,
// even for a command that cannot possibly succeed.
func TestEnvelopeTotality(t *testing.T) {
	env, code := run(t, []string{"credential-manage", "delete", "--id", "bm9uZXhpc3RlbnQ"}, "")
	_, ok := env["success"].(bool)
	assert.True(t, ok)
	assert.Equal(t, 1, code)
}

// TestOversizeStdinIsInvalidInput exercises spec §8 scenario S6: feeding
// register-finish more than the 1 MiB stdin cap yields INVALID_INPUT, not
// a crash, and still emits exactly one envelope.
func TestOversizeStdinIsInvalidInput(t *testing.T) {
	oversize := strings.Repeat("a", (1<<20)+1)
	env, code := run(t, []string{
		"register-finish",
		"--challenge-id", "00000000-0000-0000-0000-000000000000",
		"--origin", "https://router.lan",
		"--device-name", "YK5",
	}, oversize)

	assert.Equal(t, 1, code)
	assert.Equal(t, false, env["success"])
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "INVALID_INPUT", errObj["code"])
}

// TestUnknownChallengeIsChallengeNotFound exercises a finish call against
// a challenge id nothing ever issued.
func TestUnknownChallengeIsChallengeNotFound(t *testing.T) {
	env, code := run(t, []string{
		"login-finish",
		"--challenge-id", "11111111-1111-1111-1111-111111111111",
		"--origin", "https://router.lan",
	}, "{}")

	assert.Equal(t, 1, code)
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "CHALLENGE_NOT_FOUND", errObj["code"])
}

// TestLoginBeginUnknownUserIsUserNotFound exercises spec §4.5.3 step 1.
func TestLoginBeginUnknownUserIsUserNotFound(t *testing.T) {
	env, code := run(t, []string{"login-begin", "--username", "nobody", "--rp-id", "router.lan"}, "")

	assert.Equal(t, 1, code)
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "USER_NOT_FOUND", errObj["code"])
}

// TestHealthCheckAlwaysSucceeds exercises spec §4.6: health-check never
// fails to produce a response, even against a brand-new empty root.
func TestHealthCheckAlwaysSucceeds(t *testing.T) {
	env, code := run(t, []string{"health-check"}, "")

	assert.Equal(t, 0, code)
	assert.Equal(t, true, env["success"])
	data := env["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
}

// TestCleanupOnEmptyStoreReportsZero exercises the management cleanup
// path end to end with nothing to remove.
func TestCleanupOnEmptyStoreReportsZero(t *testing.T) {
	env, code := run(t, []string{"credential-manage", "cleanup"}, "")

	assert.Equal(t, 0, code)
	data := env["data"].(map[string]any)
	assert.Equal(t, float64(0), data["removed"])
}

// TestRegisterBeginProducesChallengeAndOptions exercises the begin half
// of the registration ceremony end to end via the dispatcher.
func TestRegisterBeginProducesChallengeAndOptions(t *testing.T) {
	env, code := run(t, []string{"register-begin", "--username", "root", "--rp-id", "router.lan"}, "")
	require.Equal(t, 0, code)
	data := env["data"].(map[string]any)
	assert.NotEmpty(t, data["challengeId"])
	assert.NotEmpty(t, data["publicKey"])
}

// TestListOnUntouchedUsernameIsEmpty exercises credential-manage list
// against a username that has never registered anything.
func TestListOnUntouchedUsernameIsEmpty(t *testing.T) {
	env, code := run(t, []string{"credential-manage", "list", "--username", "root"}, "")
	require.Equal(t, 0, code)
	data := env["data"].(map[string]any)
	assert.Empty(t, data["credentials"])
}

// TestMalformedIDIsInvalidInput exercises bad-base64 handling through the
// full dispatcher, not just the codec package in isolation.
func TestMalformedIDIsInvalidInput(t *testing.T) {
	env, code := run(t, []string{"credential-manage", "delete", "--id", "not==valid=="}, "")

	assert.Equal(t, 1, code)
	errObj := env["error"].(map[string]any)
	assert.Equal(t, "INVALID_INPUT", errObj["code"])
}

// TestHelpAndVersionNeverWriteToStdout guards against kingpin's default
// usage/version writer (stdout) leaking non-JSON text alongside the
// envelope: stdout must decode as exactly one JSON object, nothing else.
func TestHelpAndVersionNeverWriteToStdout(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {"--version"}} {
		t.Setenv("WEBAUTHN_ROOT", t.TempDir())

		var stdout, stderr bytes.Buffer
		dispatch.Run(args, strings.NewReader(""), &stdout, &stderr)

		var env map[string]any
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &env), "stdout for %v must be a single JSON object, got %q", args, stdout.String())
		_, ok := env["success"].(bool)
		assert.True(t, ok)
	}
}
