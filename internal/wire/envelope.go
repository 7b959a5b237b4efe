// Package wire defines the external JSON shapes this helper exchanges
// with the calling web UI: the top-level success/error envelope, and the
// camelCase, Base64URL-stringed payload for each command. Conversion from
// internal records is total (see internal/dispatch and internal/manage); decode
// of attacker/UI-controlled input is always fallible and reports
// JSON_ERROR or INVALID_INPUT.
//
// Grounded on the teacher's ErrorResponse/SuccessResponse (handlers.go),
// generalized from an HTTP body into the single stdout envelope spec §6.2
// requires for every invocation.
package wire

import (
	"encoding/json"
	"io"

	"github.com/openwrt/webauthn-helper/internal/apperr"
)

// Envelope is the single top-level JSON object every invocation writes to
// standard output exactly once.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *WireError `json:"error,omitempty"`
}

// WireError is the {code, message} shape carried by a failed envelope.
type WireError struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// Success builds the {success:true, data:...} envelope.
func Success(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

// Failure builds the {success:false, error:{code,message}} envelope.
func Failure(code apperr.Code, message string) Envelope {
	return Envelope{Success: false, Error: &WireError{Code: code, Message: message}}
}

// Emit writes env to w as a single JSON object followed by a newline.
func Emit(w io.Writer, env Envelope) error {
	enc := json.NewEncoder(w)
	return enc.Encode(env)
}
