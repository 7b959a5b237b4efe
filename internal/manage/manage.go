// Package manage implements credential lifecycle management and the
// health probe (spec §4.6): list/delete/rename credentials, delegate
// cleanup to the challenge store, and report storage health.
//
// Grounded on the teacher's handleGetPasskeys/handleDeletePasskey/
// handleUpdatePasskeyName (handlers.go) and generatePasskeyName
// (models.go) for the naming-fallback heuristic, re-targeted from the
// in-memory store to the file-backed one.
package manage

import (
	"fmt"
	"os"

	"github.com/openwrt/webauthn-helper/internal/codec"
	"github.com/openwrt/webauthn-helper/internal/store/challenge"
	"github.com/openwrt/webauthn-helper/internal/store/credential"
	"github.com/openwrt/webauthn-helper/internal/wire"
)

// version is reported verbatim by health-check.
const version = "1.0.0"

// Manager implements spec §4.6's list/delete/update/cleanup/health-check
// operations over the credential and challenge stores.
type Manager struct {
	credentials    credential.Store
	challenges     challenge.Store
	credentialPath string
}

// New returns a Manager. credentialPath is only consulted by HealthCheck,
// which needs a filesystem path to probe independent of the Store
// abstraction.
func New(credentials credential.Store, challenges challenge.Store, credentialPath string) *Manager {
	return &Manager{credentials: credentials, challenges: challenges, credentialPath: credentialPath}
}

// List returns every credential for username in insertion (store) order.
func (m *Manager) List(username string) (wire.ListData, error) {
	recs, err := m.credentials.ListByUsername(username)
	if err != nil {
		return wire.ListData{}, err
	}
	out := make([]wire.CredentialInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, toInfo(r))
	}
	return wire.ListData{Credentials: out}, nil
}

// Delete removes the credential with the given id.
func (m *Manager) Delete(id []byte) (wire.DeleteData, error) {
	if err := m.credentials.Delete(id); err != nil {
		return wire.DeleteData{}, err
	}
	return wire.DeleteData{CredentialID: codec.EncodeBytes(id)}, nil
}

// Update renames the device name on the credential with the given id.
func (m *Manager) Update(id []byte, newName string) (wire.UpdateData, error) {
	var oldName string
	err := m.credentials.Update(id, func(r *credential.Record) error {
		oldName = r.DeviceName
		r.DeviceName = newName
		return nil
	})
	if err != nil {
		return wire.UpdateData{}, err
	}
	return wire.UpdateData{CredentialID: codec.EncodeBytes(id), OldName: oldName, NewName: newName}, nil
}

// Cleanup delegates to the challenge store's TTL sweep.
func (m *Manager) Cleanup() (wire.CleanupData, error) {
	removed, err := m.challenges.Cleanup()
	if err != nil {
		return wire.CleanupData{}, err
	}
	return wire.CleanupData{Removed: removed}, nil
}

// HealthCheck probes the credential store's writability without
// mutating it (spec §4.6): it never fails to produce a response, even
// when the store is entirely absent.
func (m *Manager) HealthCheck() wire.HealthData {
	info := wire.StorageInfo{Path: m.credentialPath}

	recs, err := m.credentials.ListAll()
	if err == nil {
		info.Count = len(recs)
	}

	if stat, statErr := os.Stat(m.credentialPath); statErr == nil {
		info.Mode = fmt.Sprintf("%04o", uint32(stat.Mode().Perm()))
		f, openErr := os.OpenFile(m.credentialPath, os.O_WRONLY|os.O_APPEND, 0)
		if openErr == nil {
			info.Writable = true
			_ = f.Close()
		}
	}

	return wire.HealthData{Status: "ok", Version: version, Storage: info}
}

// toInfo converts an internal credential record to its external, total
// form (spec §4.2: internal→external conversion never fails).
func toInfo(r credential.Record) wire.CredentialInfo {
	info := wire.CredentialInfo{
		CredentialID:   codec.EncodeBytes(r.CredentialID),
		Username:       r.Username,
		DeviceName:     deviceName(r),
		AAGUID:         r.AAGUID.String(),
		CreatedAt:      codec.FormatTime(r.CreatedAt),
		SignCount:      r.SignCounter,
		BackupEligible: r.BackupEligible,
		UserVerified:   r.UserVerified,
	}
	if !r.LastUsedAt.IsZero() {
		info.LastUsedAt = codec.FormatTime(r.LastUsedAt)
	}
	return info
}

// deviceName falls back to a descriptive name derived from the
// credential's own properties when no name was ever set, the way the
// teacher's generatePasskeyName does for a freshly-registered passkey
// (spec: SUPPLEMENTED FEATURES #2).
func deviceName(r credential.Record) string {
	if r.DeviceName != "" {
		return r.DeviceName
	}
	if r.Attachment == "platform" {
		if r.BackupState {
			return "Synced Platform Passkey"
		}
		return "Platform Passkey"
	}
	if len(r.Transports) > 0 {
		switch r.Transports[0] {
		case "internal":
			return "Device Passkey"
		case "usb":
			return "USB Security Key"
		case "nfc":
			return "NFC Security Key"
		case "ble":
			return "Bluetooth Security Key"
		case "hybrid":
			if r.BackupState {
				return "Synced Phone/Tablet"
			}
			return "Phone/Tablet Passkey"
		}
	}
	if r.BackupEligible {
		if r.BackupState {
			return "Synced Passkey"
		}
		return "Backup-Eligible Passkey"
	}
	return "Security Key"
}
