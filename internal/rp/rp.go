// Package rp implements the WebAuthn Relying Party state machine (spec
// §4.5): register_begin/register_finish and login_begin/login_finish,
// each binding a challenge to an origin and RP ID and applying the
// signature-counter clone-detection policy.
//
// Grounded on the teacher's handleRegisterBegin/handleRegisterFinish/
// handleLoginBegin/handleLoginFinish (handlers.go) for the shape of each
// ceremony step, re-targeted from an *http.Request-driven flow to the
// non-HTTP CreateCredential/ValidateLogin entry points syncthing's
// webauthnService uses to verify a response it parsed from something
// other than an HTTP body.
package rp

import (
	"bytes"
	"crypto/rand"
	"net"
	"net/url"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/openwrt/webauthn-helper/internal/apperr"
	"github.com/openwrt/webauthn-helper/internal/codec"
	"github.com/openwrt/webauthn-helper/internal/rlog"
	"github.com/openwrt/webauthn-helper/internal/store/challenge"
	"github.com/openwrt/webauthn-helper/internal/store/credential"
)

// rpDisplayName is the fixed RP name presented to authenticators (spec
// §4.5.1 step 2). There is no per-router customization point for it.
const rpDisplayName = "OpenWrt"

// ceremonyTimeoutMS is the timeout (milliseconds) advertised to the
// browser for both registration and login (spec §4.5.1, §4.5.3).
const ceremonyTimeoutMS = 60000

// registrationCredentialParams pins pubKeyCredParams to exactly the pair
// spec §4.5.1 step 2 mandates (ES256, RS256), rather than trusting the
// library's own default algorithm set, which has varied across versions.
var registrationCredentialParams = []protocol.CredentialParameter{
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
}

// Engine is the WebAuthn RP state machine. It holds no per-ceremony
// state of its own; everything that must survive between a *-begin and
// its matching *-finish lives in the challenge store.
type Engine struct {
	challenges  challenge.Store
	credentials credential.Store
}

// New returns an Engine backed by the given stores.
func New(challenges challenge.Store, credentials credential.Store) *Engine {
	return &Engine{challenges: challenges, credentials: credentials}
}

// rpUser adapts a username plus its existing credentials to the
// webauthn.User interface the library requires (grounded on the
// teacher's User in models.go, minus the fields that exist only because
// the teacher keeps users resident in memory).
type rpUser struct {
	handle []byte
	name   string
	creds  []webauthn.Credential
}

func (u rpUser) WebAuthnID() []byte                         { return u.handle }
func (u rpUser) WebAuthnName() string                       { return u.name }
func (u rpUser) WebAuthnDisplayName() string                { return u.name }
func (u rpUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func toLibraryCredential(r credential.Record) webauthn.Credential {
	return webauthn.Credential{
		ID:              r.CredentialID,
		PublicKey:       r.PublicKeyCOSE,
		AttestationType: r.AttestationType,
		Authenticator: webauthn.Authenticator{
			AAGUID:    r.AAGUID[:],
			SignCount: r.SignCounter,
		},
		Flags: webauthn.CredentialFlags{
			BackupEligible: r.BackupEligible,
			BackupState:    r.BackupState,
			UserVerified:   r.UserVerified,
		},
	}
}

// loadUser builds the rpUser for username from the persisted credential
// records, reusing the stored user handle if one exists.
func (e *Engine) loadUser(username string) (rpUser, []credential.Record, error) {
	recs, err := e.credentials.ListByUsername(username)
	if err != nil {
		return rpUser{}, nil, err
	}
	u := rpUser{name: username}
	if len(recs) > 0 {
		u.handle = recs[0].UserHandle
	} else {
		handle := make([]byte, 32)
		if _, err := rand.Read(handle); err != nil {
			return rpUser{}, nil, apperr.NewStorageError(err, "generating user handle")
		}
		u.handle = handle
	}
	for _, r := range recs {
		u.creds = append(u.creds, toLibraryCredential(r))
	}
	return u, recs, nil
}

// isIPLiteral reports whether rpID parses as an IPv4 or IPv6 address
// rather than a DNS name.
func isIPLiteral(rpID string) bool {
	return net.ParseIP(rpID) != nil
}

// bindOrigin validates origin against rpID per spec §4.5.2 step 3 /
// Open Question (b): ordinary RP IDs require scheme https and an exact
// hostname match; IP-literal RP IDs accept any scheme/port as long as
// the host matches exactly.
func bindOrigin(rpID, origin string) error {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperr.NewInvalidOrigin("malformed origin %q", origin)
	}
	if u.Hostname() != rpID {
		return apperr.NewInvalidOrigin("origin %q does not bind to rp id %q", origin, rpID)
	}
	if !isIPLiteral(rpID) && u.Scheme != "https" {
		return apperr.NewInvalidOrigin("origin %q must use https for rp id %q", origin, rpID)
	}
	return nil
}

// newWebAuthn constructs a library instance scoped to one ceremony: the
// RP ID and the single already-bound origin it will verify against.
func newWebAuthn(rpID, origin string) (*webauthn.WebAuthn, error) {
	cfg := &webauthn.Config{
		RPDisplayName:         rpDisplayName,
		RPID:                  rpID,
		RPOrigins:             []string{origin},
		AttestationPreference: protocol.PreferNoAttestation,
	}
	engine, err := webauthn.New(cfg)
	if err != nil {
		return nil, apperr.NewWebAuthnError("configuring webauthn engine: %v", err)
	}
	return engine, nil
}

// RegisterBegin implements spec §4.5.1.
func (e *Engine) RegisterBegin(username, rpID string, uv protocol.UserVerificationRequirement) (string, *protocol.CredentialCreation, error) {
	user, existing, err := e.loadUser(username)
	if err != nil {
		return "", nil, err
	}

	// Placeholder origin: BeginRegistration never touches RPOrigins, only
	// RPID, so any well-formed https origin satisfies webauthn.New here.
	engine, err := newWebAuthn(rpID, "https://"+rpID)
	if err != nil {
		return "", nil, err
	}

	exclude := make([]protocol.CredentialDescriptor, 0, len(existing))
	for _, r := range existing {
		exclude = append(exclude, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: r.CredentialID,
		})
	}

	options, sessionData, err := engine.BeginRegistration(
		user,
		webauthn.WithExclusions(exclude),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: uv,
		}),
		webauthn.WithCredentialParameters(registrationCredentialParams),
	)
	if err != nil {
		return "", nil, apperr.NewWebAuthnError("beginning registration: %v", err)
	}
	options.Response.Timeout = ceremonyTimeoutMS

	challengeID := codec.NewUUID()
	rec := challenge.Record{
		ID:          challengeID,
		Kind:        challenge.KindRegister,
		RPID:        rpID,
		Username:    username,
		SessionData: *sessionData,
		CreatedAt:   codec.Now(),
	}
	if err := e.challenges.Put(rec); err != nil {
		return "", nil, err
	}
	return challengeID, options, nil
}

// RegisterFinish implements spec §4.5.2.
func (e *Engine) RegisterFinish(challengeID, origin, deviceName string, body []byte) (credential.Record, error) {
	rec, err := e.challenges.Take(challengeID)
	if err != nil {
		return credential.Record{}, err
	}
	if rec.Kind != challenge.KindRegister {
		return credential.Record{}, apperr.NewChallengeNotFound("challenge %s is not a registration challenge", challengeID)
	}
	if err := bindOrigin(rec.RPID, origin); err != nil {
		return credential.Record{}, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
	if err != nil {
		return credential.Record{}, apperr.NewJSONError(err, "parsing registration response")
	}

	engine, err := newWebAuthn(rec.RPID, origin)
	if err != nil {
		return credential.Record{}, err
	}

	user := rpUser{handle: rec.SessionData.UserID, name: rec.Username}
	cred, err := engine.CreateCredential(user, rec.SessionData, parsed)
	if err != nil {
		return credential.Record{}, apperr.NewWebAuthnError("verifying attestation: %v", err)
	}

	now := codec.Now()
	out := credential.Record{
		CredentialID:    cred.ID,
		Username:        rec.Username,
		UserHandle:      rec.SessionData.UserID,
		DeviceName:      deviceName,
		PublicKeyCOSE:   cred.PublicKey,
		AAGUID:          aaguidToUUID(cred.Authenticator.AAGUID),
		SignCounter:     cred.Authenticator.SignCount,
		UserVerified:    cred.Flags.UserVerified,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		AttestationType: cred.AttestationType,
		Attachment:      string(cred.Authenticator.Attachment),
		CreatedAt:       now,
		LastUsedAt:      now,
	}
	for _, t := range cred.Transport {
		out.Transports = append(out.Transports, string(t))
	}

	if err := e.credentials.Insert(out); err != nil {
		return credential.Record{}, err
	}
	return out, nil
}

// LoginBegin implements spec §4.5.3.
func (e *Engine) LoginBegin(username, rpID string) (string, *protocol.CredentialAssertion, error) {
	user, existing, err := e.loadUser(username)
	if err != nil {
		return "", nil, err
	}
	if len(existing) == 0 {
		return "", nil, apperr.NewUserNotFound("no credentials enrolled for %s", username)
	}

	engine, err := newWebAuthn(rpID, "https://"+rpID)
	if err != nil {
		return "", nil, err
	}

	options, sessionData, err := engine.BeginLogin(
		user,
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return "", nil, apperr.NewWebAuthnError("beginning login: %v", err)
	}
	options.Response.Timeout = ceremonyTimeoutMS

	challengeID := codec.NewUUID()
	rec := challenge.Record{
		ID:          challengeID,
		Kind:        challenge.KindLogin,
		RPID:        rpID,
		Username:    username,
		SessionData: *sessionData,
		CreatedAt:   codec.Now(),
	}
	if err := e.challenges.Put(rec); err != nil {
		return "", nil, err
	}
	return challengeID, options, nil
}

// LoginFinish implements spec §4.5.4, including the counter policy.
func (e *Engine) LoginFinish(challengeID, origin string, body []byte) (credential.Record, error) {
	rec, err := e.challenges.Take(challengeID)
	if err != nil {
		return credential.Record{}, err
	}
	if rec.Kind != challenge.KindLogin {
		return credential.Record{}, apperr.NewChallengeNotFound("challenge %s is not a login challenge", challengeID)
	}
	if err := bindOrigin(rec.RPID, origin); err != nil {
		return credential.Record{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
	if err != nil {
		return credential.Record{}, apperr.NewJSONError(err, "parsing assertion response")
	}

	allowed := false
	for _, id := range rec.SessionData.AllowedCredentialIDs {
		if string(id) == string(parsed.RawID) {
			allowed = true
			break
		}
	}
	if !allowed {
		return credential.Record{}, apperr.NewCredentialNotFound("credential %s not in allow list", codec.EncodeBytes(parsed.RawID))
	}

	stored, err := e.credentials.FindByID(parsed.RawID)
	if err != nil {
		return credential.Record{}, err
	}

	engine, err := newWebAuthn(rec.RPID, origin)
	if err != nil {
		return credential.Record{}, err
	}
	user := rpUser{handle: rec.SessionData.UserID, name: rec.Username, creds: []webauthn.Credential{toLibraryCredential(stored)}}

	updated, err := engine.ValidateLogin(user, rec.SessionData, parsed)
	if err != nil {
		return credential.Record{}, apperr.NewWebAuthnError("verifying assertion: %v", err)
	}

	newCounter := updated.Authenticator.SignCount
	userVerified := updated.Flags.UserVerified

	// The accept/reject decision is made inside the mutate callback, which
	// runs under the credential store's exclusive lock: re-reading
	// r.SignCounter here rather than trusting the value loaded by
	// FindByID above is what keeps invariant 2 holding when two
	// login-finish invocations for the same credential race (spec §5).
	var out credential.Record
	err = e.credentials.Update(stored.CredentialID, func(r *credential.Record) error {
		oldCounter := r.SignCounter
		accept := (oldCounter == 0 && newCounter == 0) || newCounter > oldCounter
		if !accept {
			rlog.CloneDetected(codec.EncodeBytes(r.CredentialID), rec.Username, oldCounter, newCounter)
			return apperr.NewWebAuthnError("signature counter did not advance")
		}
		r.SignCounter = newCounter
		r.LastUsedAt = codec.Now()
		r.UserVerified = userVerified || r.UserVerified
		out = *r
		return nil
	})
	if err != nil {
		return credential.Record{}, err
	}
	return out, nil
}

func aaguidToUUID(b []byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b)
	return u
}
