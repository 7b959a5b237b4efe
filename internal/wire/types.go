package wire

import "github.com/go-webauthn/webauthn/protocol"

// RegisterBeginData is the register-begin response: the CredentialCreation
// options object the browser passes straight to
// navigator.credentials.create(), plus the id the UI echoes back on
// register-finish. protocol.CredentialCreation already marshals to
// {"publicKey": {...}} on its own (go-webauthn/webauthn constructs it for
// direct encoding to an HTTP response body); embedding it here keeps that
// shape instead of re-describing it field by field.
type RegisterBeginData struct {
	*protocol.CredentialCreation
	ChallengeID string `json:"challengeId"`
}

// RegisterFinishData is the register-finish response: what got stored.
type RegisterFinishData struct {
	CredentialID string `json:"credentialId"`
	AAGUID       string `json:"aaguid"`
	DeviceName   string `json:"deviceName"`
	CreatedAt    string `json:"createdAt"`
}

// LoginBeginData is the login-begin response, the assertion counterpart of
// RegisterBeginData.
type LoginBeginData struct {
	*protocol.CredentialAssertion
	ChallengeID string `json:"challengeId"`
}

// LoginFinishData is the login-finish response.
type LoginFinishData struct {
	Username     string `json:"username"`
	CredentialID string `json:"credentialId"`
	UserVerified bool   `json:"userVerified"`
	SignCount    uint32 `json:"signCount"`
}

// CredentialInfo is one entry of a credential-manage list response.
type CredentialInfo struct {
	CredentialID   string `json:"credentialId"`
	Username       string `json:"username"`
	DeviceName     string `json:"deviceName"`
	AAGUID         string `json:"aaguid"`
	CreatedAt      string `json:"createdAt"`
	LastUsedAt     string `json:"lastUsedAt,omitempty"`
	SignCount      uint32 `json:"signCount"`
	BackupEligible bool   `json:"backupEligible"`
	UserVerified   bool   `json:"userVerified"`
}

// ListData is the credential-manage list response.
type ListData struct {
	Credentials []CredentialInfo `json:"credentials"`
}

// UpdateData is the credential-manage rename response.
type UpdateData struct {
	CredentialID string `json:"credentialId"`
	OldName      string `json:"oldName"`
	NewName      string `json:"newName"`
}

// DeleteData is the credential-manage delete response.
type DeleteData struct {
	CredentialID string `json:"credentialId"`
}

// CleanupData is the credential-manage cleanup response.
type CleanupData struct {
	Removed int `json:"removed"`
}

// StorageInfo describes the persistent credential store for health-check.
type StorageInfo struct {
	Writable bool   `json:"writable"`
	Path     string `json:"path"`
	Count    int    `json:"count"`
	Mode     string `json:"mode"`
}

// HealthData is the health-check response.
type HealthData struct {
	Status  string      `json:"status"`
	Version string      `json:"version"`
	Storage StorageInfo `json:"storage"`
}
