// Package challenge implements the ephemeral, single-use challenge store
// (spec §4.3): one file per pending ceremony under a challenges directory,
// deleted on first read or once older than its TTL.
//
// Grounded on the teacher's Session/StoreSession/GetSession/
// CleanupExpiredSessions (models.go), generalized from an in-memory map
// guarded by sync.RWMutex to one file per record so the store survives
// across process invocations, and on the orris-inc sessionDataWrapper
// pattern for giving webauthn.SessionData a stable JSON shape independent
// of the library's own (unexported-field-heavy) internals.
package challenge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/openwrt/webauthn-helper/internal/apperr"
	"github.com/openwrt/webauthn-helper/internal/codec"
)

// TTL is how long a challenge remains valid after creation (spec §4.3, §8.3).
const TTL = 120 * time.Second

// Kind tags which ceremony a ChallengeRecord belongs to.
type Kind string

const (
	KindRegister Kind = "register"
	KindLogin    Kind = "login"
)

// Record binds a pending ceremony to the parameters its *-finish call must
// honor: the RP ID and username it was issued for, and the SessionData the
// WebAuthn engine needs to verify the eventual response.
type Record struct {
	ID          string
	Kind        Kind
	RPID        string
	Username    string
	SessionData webauthn.SessionData
	CreatedAt   time.Time
}

// Store is the capability set spec §9 asks components to depend on,
// rather than the concrete filesystem type below.
type Store interface {
	Put(rec Record) error
	Take(id string) (Record, error)
	Cleanup() (int, error)
}

// FileStore is the production, filesystem-backed Store.
type FileStore struct {
	dir string
}

// New returns a FileStore rooted at dir, creating it if absent.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, apperr.NewStorageError(err, "creating challenge directory %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Put persists rec with mode 0600, using write-to-temp-then-rename so a
// concurrent reader never observes a half-written file.
func (s *FileStore) Put(rec Record) error {
	data, err := marshalRecord(rec)
	if err != nil {
		return apperr.NewJSONError(err, "encoding challenge record")
	}
	tmp := filepath.Join(s.dir, ".tmp-"+rec.ID)
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return apperr.NewStorageError(err, "writing challenge %s", rec.ID)
	}
	if err := os.Rename(tmp, s.path(rec.ID)); err != nil {
		return apperr.NewStorageError(err, "committing challenge %s", rec.ID)
	}
	return nil
}

// Take reads and deletes the record for id. A missing file, an expired
// record, or an unparseable record all surface as CHALLENGE_NOT_FOUND:
// none of them authorize a ceremony (spec §4.3, invariant 4).
func (s *FileStore) Take(id string) (Record, error) {
	p := s.path(id)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, apperr.NewChallengeNotFound("challenge %s not found", id)
		}
		return Record{}, apperr.NewStorageError(err, "reading challenge %s", id)
	}

	rec, parseErr := unmarshalRecord(id, data)
	_ = os.Remove(p) // best-effort; MUST precede returning success per spec §4.3
	if parseErr != nil {
		return Record{}, apperr.NewChallengeNotFound("challenge %s not found", id)
	}
	if time.Since(rec.CreatedAt) > TTL {
		return Record{}, apperr.NewChallengeNotFound("challenge %s expired", id)
	}
	return rec, nil
}

// Cleanup removes every challenge file older than TTL or that fails to
// parse, returning the count removed.
func (s *FileStore) Cleanup() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apperr.NewStorageError(err, "listing challenge directory")
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		id := name[:len(name)-len(".json")]
		p := s.path(id)
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		rec, err := unmarshalRecord(id, data)
		if err != nil || time.Since(rec.CreatedAt) > TTL {
			if os.Remove(p) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// credParamWrapper gives protocol.CredentialParameter a stable JSON shape;
// the library's own type marshals fine but we pin it here rather than
// depend on that staying true across versions.
type credParamWrapper struct {
	Type      string `json:"type"`
	Algorithm int64  `json:"alg"`
}

// wireRecord is the on-disk shape of a Record: SessionData's fields are
// flattened out explicitly instead of relying on its own (largely
// unexported-friendly but still library-owned) JSON tags.
type wireRecord struct {
	ID                   string             `json:"id"`
	Kind                 Kind               `json:"kind"`
	RPID                 string             `json:"rpId"`
	Username             string             `json:"username"`
	CreatedAt            string             `json:"createdAt"`
	Challenge            string             `json:"challenge"`
	SessionRPID          string             `json:"sessionRpId"`
	UserID               string             `json:"userId"`
	AllowedCredentialIDs []string           `json:"allowedCredentialIds,omitempty"`
	UserVerification     string             `json:"userVerification"`
	Expires              int64              `json:"expires"`
	CredParams           []credParamWrapper `json:"credParams,omitempty"`
	Mediation            string             `json:"mediation,omitempty"`
}

func marshalRecord(rec Record) ([]byte, error) {
	sd := rec.SessionData

	allowed := make([]string, 0, len(sd.AllowedCredentialIDs))
	for _, id := range sd.AllowedCredentialIDs {
		allowed = append(allowed, codec.EncodeBytes(id))
	}

	params := make([]credParamWrapper, 0, len(sd.CredParams))
	for _, cp := range sd.CredParams {
		params = append(params, credParamWrapper{Type: string(cp.Type), Algorithm: int64(cp.Algorithm)})
	}

	w := wireRecord{
		ID:                   rec.ID,
		Kind:                 rec.Kind,
		RPID:                 rec.RPID,
		Username:             rec.Username,
		CreatedAt:            codec.FormatTime(rec.CreatedAt),
		Challenge:            sd.Challenge,
		SessionRPID:          sd.RelyingPartyID,
		UserID:               codec.EncodeBytes(sd.UserID),
		AllowedCredentialIDs: allowed,
		UserVerification:     string(sd.UserVerification),
		Expires:              sd.Expires.UnixMilli(),
		CredParams:           params,
		Mediation:            string(sd.Mediation),
	}
	return json.Marshal(w)
}

func unmarshalRecord(id string, data []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, apperr.NewJSONError(err, "decoding challenge record %s", id)
	}

	createdAt, err := codec.ParseTime(w.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	userID, err := codec.DecodeBytes(w.UserID)
	if err != nil {
		return Record{}, err
	}

	allowed := make([][]byte, 0, len(w.AllowedCredentialIDs))
	for _, s := range w.AllowedCredentialIDs {
		b, err := codec.DecodeBytes(s)
		if err != nil {
			return Record{}, err
		}
		allowed = append(allowed, b)
	}

	params := make([]protocol.CredentialParameter, 0, len(w.CredParams))
	for _, cp := range w.CredParams {
		params = append(params, protocol.CredentialParameter{
			Type:      protocol.CredentialType(cp.Type),
			Algorithm: webauthncose.COSEAlgorithmIdentifier(cp.Algorithm),
		})
	}

	return Record{
		ID:       w.ID,
		Kind:     w.Kind,
		RPID:     w.RPID,
		Username: w.Username,
		SessionData: webauthn.SessionData{
			Challenge:            w.Challenge,
			RelyingPartyID:       w.SessionRPID,
			UserID:               userID,
			AllowedCredentialIDs: allowed,
			UserVerification:     protocol.UserVerificationRequirement(w.UserVerification),
			Expires:              time.UnixMilli(w.Expires),
			CredParams:           params,
			Mediation:            protocol.CredentialMediationRequirement(w.Mediation),
		},
		CreatedAt: createdAt,
	}, nil
}
