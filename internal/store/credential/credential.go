// Package credential implements the persistent credential store (spec
// §4.4): an exclusive-lock-guarded, atomically-replaced JSON file mapping
// credential id to CredentialRecord.
//
// Grounded on the teacher's InMemoryStore (models.go) for the
// load/insert/update/delete/list_by_username operation set, generalized
// from a sync.RWMutex-guarded map to a single JSON file guarded by an
// advisory file lock (github.com/gofrs/flock, the lock library the rest
// of the pack — gravitational-teleport's lib/backend — reaches for
// instead of hand-rolled flock(2) syscalls).
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/openwrt/webauthn-helper/internal/apperr"
	"github.com/openwrt/webauthn-helper/internal/codec"
)

// lockTimeout bounds how long a caller waits for the exclusive lock before
// surfacing STORAGE_ERROR (spec §5).
const lockTimeout = 5 * time.Second

// Record is a registered authenticator.
type Record struct {
	CredentialID    []byte
	Username        string
	// UserHandle is the WebAuthn user id issued the first time this
	// username registers a credential; every later credential for the
	// same username reuses it (spec §4.5.1 step 1).
	UserHandle      []byte
	DeviceName      string
	PublicKeyCOSE   []byte
	AAGUID          uuid.UUID
	SignCounter     uint32
	UserVerified    bool
	BackupEligible  bool
	BackupState     bool
	AttestationType string
	Attachment      string
	Transports      []string
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

// Store is the capability set spec §9 asks the engine and management
// operations to depend on.
type Store interface {
	Load() ([]Record, error)
	Insert(rec Record) error
	FindByID(id []byte) (Record, error)
	ListByUsername(username string) ([]Record, error)
	ListAll() ([]Record, error)
	// Update loads the record for id, passes a pointer to mutate in place,
	// and persists the result. mutate returning an error aborts the write
	// and propagates the error unchanged (used for counter-regression
	// rejection, which is a policy decision made by the caller).
	Update(id []byte, mutate func(*Record) error) error
	Delete(id []byte) error
}

// FileStore is the production, filesystem-backed Store.
type FileStore struct {
	path string
}

// New returns a FileStore backed by path, creating an empty store file
// with mode 0600 if path does not yet exist.
func New(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, apperr.NewStorageError(err, "creating credential store directory")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		empty, _ := json.Marshal(document{Version: 1})
		if err := os.WriteFile(path, empty, 0600); err != nil {
			return nil, apperr.NewStorageError(err, "creating credential store %s", path)
		}
	} else if err != nil {
		return nil, apperr.NewStorageError(err, "stat credential store %s", path)
	}
	// A temp file left behind by a process killed mid-rename is never
	// read as data; reclaim it opportunistically so the directory doesn't
	// accumulate garbage across crashes (spec §5 fixed-temp-name discipline).
	_ = os.Remove(filepath.Join(filepath.Dir(path), ".credentials.json.tmp"))
	return &FileStore{path: path}, nil
}

type document struct {
	Version     int              `json:"version"`
	Credentials []wireCredential `json:"credentials"`
}

type wireCredential struct {
	CredentialID    string `json:"credentialId"`
	Username        string `json:"username"`
	UserHandle      string `json:"userHandle"`
	DeviceName      string `json:"deviceName"`
	PublicKeyCOSE   string `json:"publicKeyCose"`
	AAGUID          string `json:"aaguid"`
	SignCounter     uint32 `json:"signCounter"`
	UserVerified    bool   `json:"userVerified"`
	BackupEligible  bool   `json:"backupEligible"`
	BackupState     bool   `json:"backupState"`
	AttestationType string `json:"attestationType"`
	Attachment      string `json:"attachment,omitempty"`
	Transports      []string `json:"transports,omitempty"`
	CreatedAt       string `json:"createdAt"`
	LastUsedAt      string `json:"lastUsedAt"`
}

func toWire(r Record) wireCredential {
	return wireCredential{
		CredentialID:    codec.EncodeBytes(r.CredentialID),
		Username:        r.Username,
		UserHandle:      codec.EncodeBytes(r.UserHandle),
		DeviceName:      r.DeviceName,
		PublicKeyCOSE:   codec.EncodeBytes(r.PublicKeyCOSE),
		AAGUID:          r.AAGUID.String(),
		SignCounter:     r.SignCounter,
		UserVerified:    r.UserVerified,
		BackupEligible:  r.BackupEligible,
		BackupState:     r.BackupState,
		AttestationType: r.AttestationType,
		Attachment:      r.Attachment,
		Transports:      r.Transports,
		CreatedAt:       codec.FormatTime(r.CreatedAt),
		LastUsedAt:      codec.FormatTime(r.LastUsedAt),
	}
}

func fromWire(w wireCredential) (Record, error) {
	id, err := codec.DecodeBytes(w.CredentialID)
	if err != nil {
		return Record{}, err
	}
	pub, err := codec.DecodeBytes(w.PublicKeyCOSE)
	if err != nil {
		return Record{}, err
	}
	handle, err := codec.DecodeBytes(w.UserHandle)
	if err != nil {
		return Record{}, err
	}
	aaguid, err := uuid.Parse(w.AAGUID)
	if err != nil {
		return Record{}, apperr.NewJSONError(err, "invalid aaguid %q", w.AAGUID)
	}
	createdAt, err := codec.ParseTime(w.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	lastUsedAt, err := codec.ParseTime(w.LastUsedAt)
	if err != nil {
		return Record{}, err
	}
	return Record{
		CredentialID:    id,
		Username:        w.Username,
		UserHandle:      handle,
		DeviceName:      w.DeviceName,
		PublicKeyCOSE:   pub,
		AAGUID:          aaguid,
		SignCounter:     w.SignCounter,
		UserVerified:    w.UserVerified,
		BackupEligible:  w.BackupEligible,
		BackupState:     w.BackupState,
		AttestationType: w.AttestationType,
		Attachment:      w.Attachment,
		Transports:      w.Transports,
		CreatedAt:       createdAt,
		LastUsedAt:      lastUsedAt,
	}, nil
}

// withLock acquires the exclusive advisory lock on the sibling file
// s.path+".lock", loads the current document, hands it to fn, and — if fn
// reports the document changed — persists it via write-temp-fsync-rename
// before releasing the lock. The lock is held for the entire window (spec
// §4.4 step 1-5). It lives on a separate file because the rename replaces
// s.path itself, and a lock on the replaced file would not exclude a
// process that opens the new one.
func (s *FileStore) withLock(fn func(doc *document) (dirty bool, err error)) error {
	fl := flock.New(s.path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return apperr.NewStorageError(err, "acquiring credential store lock")
	}
	if !locked {
		return apperr.NewStorageError(errors.New("lock held by another process"), "timed out acquiring credential store lock")
	}
	defer fl.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return apperr.NewStorageError(err, "stat credential store")
	}
	mode := info.Mode().Perm()

	var doc document
	data, err := os.ReadFile(s.path)
	if err != nil {
		return apperr.NewStorageError(err, "reading credential store")
	}
	if len(data) == 0 {
		doc = document{Version: 1}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return apperr.NewStorageError(err, "parsing credential store")
	}

	dirty, err := fn(&doc)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return apperr.NewJSONError(err, "encoding credential store")
	}

	dir := filepath.Dir(s.path)
	tmp := filepath.Join(dir, ".credentials.json.tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return apperr.NewStorageError(err, "writing credential store temp file")
	}
	if _, err := f.Write(out); err != nil {
		f.Close()
		return apperr.NewStorageError(err, "writing credential store temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return apperr.NewStorageError(err, "syncing credential store temp file")
	}
	if err := f.Close(); err != nil {
		return apperr.NewStorageError(err, "closing credential store temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperr.NewStorageError(err, "committing credential store")
	}
	return nil
}

func (s *FileStore) Load() ([]Record, error) {
	var out []Record
	err := s.withLock(func(doc *document) (bool, error) {
		recs, err := decodeAll(doc.Credentials)
		if err != nil {
			return false, err
		}
		out = recs
		return false, nil
	})
	return out, err
}

func (s *FileStore) Insert(rec Record) error {
	return s.withLock(func(doc *document) (bool, error) {
		for _, w := range doc.Credentials {
			if w.CredentialID == codec.EncodeBytes(rec.CredentialID) {
				return false, apperr.NewInvalidInput("credential already registered")
			}
		}
		doc.Credentials = append(doc.Credentials, toWire(rec))
		return true, nil
	})
}

func (s *FileStore) FindByID(id []byte) (Record, error) {
	var found Record
	err := s.withLock(func(doc *document) (bool, error) {
		want := codec.EncodeBytes(id)
		for _, w := range doc.Credentials {
			if w.CredentialID == want {
				rec, err := fromWire(w)
				if err != nil {
					return false, err
				}
				found = rec
				return false, nil
			}
		}
		return false, apperr.NewCredentialNotFound("credential %s not found", want)
	})
	return found, err
}

// ListByUsername returns every credential for username, de-duplicated by
// credential id as defense in depth around invariant 1 (a corrupted store
// should never surface the same credential twice to a caller).
func (s *FileStore) ListByUsername(username string) ([]Record, error) {
	all, err := s.Load()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(all))
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.Username != username {
			continue
		}
		key := codec.EncodeBytes(r.CredentialID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out, nil
}

func (s *FileStore) ListAll() ([]Record, error) {
	return s.Load()
}

func (s *FileStore) Update(id []byte, mutate func(*Record) error) error {
	return s.withLock(func(doc *document) (bool, error) {
		want := codec.EncodeBytes(id)
		for i, w := range doc.Credentials {
			if w.CredentialID != want {
				continue
			}
			rec, err := fromWire(w)
			if err != nil {
				return false, err
			}
			if err := mutate(&rec); err != nil {
				return false, err
			}
			doc.Credentials[i] = toWire(rec)
			return true, nil
		}
		return false, apperr.NewCredentialNotFound("credential %s not found", want)
	})
}

func (s *FileStore) Delete(id []byte) error {
	return s.withLock(func(doc *document) (bool, error) {
		want := codec.EncodeBytes(id)
		for i, w := range doc.Credentials {
			if w.CredentialID == want {
				doc.Credentials = append(doc.Credentials[:i], doc.Credentials[i+1:]...)
				return true, nil
			}
		}
		return false, apperr.NewCredentialNotFound("credential %s not found", want)
	})
}

func decodeAll(wires []wireCredential) ([]Record, error) {
	out := make([]Record, 0, len(wires))
	for _, w := range wires {
		rec, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
