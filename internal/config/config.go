// Package config resolves the two on-disk locations the rest of the
// helper reads and writes, honoring the WEBAUTHN_ROOT override (spec
// §6.4) used to relocate both prefixes for testing.
//
// Grounded on the teacher's main.go, which reads NGROK_URL from the
// environment with a hardcoded fallback; narrowed here to the single
// variable the spec allows.
package config

import (
	"os"
	"path/filepath"
)

// Paths holds the resolved filesystem locations for persisted state.
type Paths struct {
	// EtcRoot is normally /etc/webauthn.
	EtcRoot string
	// TmpRoot is normally /tmp/webauthn.
	TmpRoot string
}

// CredentialsFile is the path to the persistent credential store.
func (p Paths) CredentialsFile() string {
	return filepath.Join(p.EtcRoot, "credentials.json")
}

// ChallengeDir is the directory holding one file per pending challenge.
func (p Paths) ChallengeDir() string {
	return filepath.Join(p.TmpRoot, "challenges")
}

// Load resolves Paths from the environment. WEBAUTHN_ROOT, when set,
// relocates both the /etc/webauthn and /tmp/webauthn prefixes under a
// single directory (<root>/etc/webauthn and <root>/tmp/webauthn) so tests never touch real
// system paths.
func Load() Paths {
	if root := os.Getenv("WEBAUTHN_ROOT"); root != "" {
		return Paths{
			EtcRoot: filepath.Join(root, "etc", "webauthn"),
			TmpRoot: filepath.Join(root, "tmp", "webauthn"),
		}
	}
	return Paths{
		EtcRoot: "/etc/webauthn",
		TmpRoot: "/tmp/webauthn",
	}
}
