package rp

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwrt/webauthn-helper/internal/apperr"
	"github.com/openwrt/webauthn-helper/internal/codec"
	"github.com/openwrt/webauthn-helper/internal/store/challenge"
	"github.com/openwrt/webauthn-helper/internal/store/credential"
)

func TestIsIPLiteral(t *testing.T) {
	assert.True(t, isIPLiteral("192.168.1.1"))
	assert.True(t, isIPLiteral("::1"))
	assert.False(t, isIPLiteral("router.lan"))
}

func TestBindOriginDNSRequiresHTTPSAndExactHost(t *testing.T) {
	assert.NoError(t, bindOrigin("router.lan", "https://router.lan"))
	assert.Error(t, bindOrigin("router.lan", "http://router.lan"))
	assert.Error(t, bindOrigin("router.lan", "https://evil.example"))
}

func TestBindOriginIPLiteralAcceptsAnySchemeExactHost(t *testing.T) {
	assert.NoError(t, bindOrigin("192.168.1.1", "https://192.168.1.1"))
	assert.NoError(t, bindOrigin("192.168.1.1", "http://192.168.1.1:8080"))
	assert.Error(t, bindOrigin("192.168.1.1", "https://192.168.1.2"))
}

func TestBindOriginRejectsMalformed(t *testing.T) {
	assert.Error(t, bindOrigin("router.lan", "not-a-url"))
	assert.Error(t, bindOrigin("router.lan", ""))
}

// TestLoadUserReusesStoredHandle exercises spec §4.5.1 step 1: a second
// credential for the same username must reuse the first's user handle.
func TestLoadUserReusesStoredHandle(t *testing.T) {
	store := credential.NewMemory()
	now := codec.Now()
	handle := []byte("fixed-handle")
	require.NoError(t, store.Insert(credential.Record{
		CredentialID: []byte("cred-a"),
		Username:     "root",
		UserHandle:   handle,
		AAGUID:       uuid.New(),
		CreatedAt:    now,
		LastUsedAt:   now,
	}))

	e := &Engine{credentials: store}
	user, existing, err := e.loadUser("root")
	require.NoError(t, err)
	assert.Equal(t, handle, user.handle)
	assert.Len(t, existing, 1)
	assert.Len(t, user.creds, 1)
}

func TestLoadUserGeneratesHandleForNewUsername(t *testing.T) {
	e := &Engine{credentials: credential.NewMemory()}
	user, existing, err := e.loadUser("newuser")
	require.NoError(t, err)
	assert.Empty(t, existing)
	assert.Len(t, user.handle, 32)
}

// TestCounterPolicy checks the three branches of spec §4.5.4 step 5
// against the accept rule LoginFinish applies inside its Update callback,
// restated here because driving LoginFinish itself needs a real assertion
// signature.
func TestCounterPolicy(t *testing.T) {
	accept := func(old, new uint32) bool {
		return (old == 0 && new == 0) || new > old
	}
	assert.True(t, accept(0, 0))
	assert.True(t, accept(3, 5))
	assert.False(t, accept(5, 3))
	assert.False(t, accept(5, 5))
}

func TestRegisterFinishRejectsWrongChallengeKind(t *testing.T) {
	challenges := challenge.NewMemory()
	require.NoError(t, challenges.Put(challenge.Record{
		ID:        "c1",
		Kind:      challenge.KindLogin,
		RPID:      "router.lan",
		Username:  "root",
		CreatedAt: codec.Now(),
	}))
	e := New(challenges, credential.NewMemory())

	_, err := e.RegisterFinish("c1", "https://router.lan", "YK5", nil)
	assert.Equal(t, apperr.CodeChallengeNotFound, apperr.Classify(err))
}

func TestRegisterFinishRejectsOriginMismatchBeforeParsing(t *testing.T) {
	challenges := challenge.NewMemory()
	require.NoError(t, challenges.Put(challenge.Record{
		ID:        "c1",
		Kind:      challenge.KindRegister,
		RPID:      "router.lan",
		Username:  "root",
		CreatedAt: codec.Now(),
	}))
	e := New(challenges, credential.NewMemory())

	_, err := e.RegisterFinish("c1", "https://evil.example", "YK5", nil)
	assert.Equal(t, apperr.CodeInvalidOrigin, apperr.Classify(err))
}

func TestLoginFinishRejectsWrongChallengeKind(t *testing.T) {
	challenges := challenge.NewMemory()
	require.NoError(t, challenges.Put(challenge.Record{
		ID:        "c1",
		Kind:      challenge.KindRegister,
		RPID:      "router.lan",
		Username:  "root",
		CreatedAt: codec.Now(),
	}))
	e := New(challenges, credential.NewMemory())

	_, err := e.LoginFinish("c1", "https://router.lan", nil)
	assert.Equal(t, apperr.CodeChallengeNotFound, apperr.Classify(err))
}

func TestLoginBeginRejectsUnknownUsername(t *testing.T) {
	e := New(challenge.NewMemory(), credential.NewMemory())
	_, _, err := e.LoginBegin("nobody", "router.lan")
	assert.Equal(t, apperr.CodeUserNotFound, apperr.Classify(err))
}
