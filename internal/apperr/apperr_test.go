package apperr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openwrt/webauthn-helper/internal/apperr"
)

func TestClassifyRoundTripsEachCode(t *testing.T) {
	cases := []struct {
		code apperr.Code
		err  error
	}{
		{apperr.CodeChallengeNotFound, apperr.NewChallengeNotFound("gone")},
		{apperr.CodeUserNotFound, apperr.NewUserNotFound("gone")},
		{apperr.CodeCredentialNotFound, apperr.NewCredentialNotFound("gone")},
		{apperr.CodeInvalidOrigin, apperr.NewInvalidOrigin("bad")},
		{apperr.CodeWebAuthnError, apperr.NewWebAuthnError("bad")},
		{apperr.CodeStorageError, apperr.NewStorageError(errors.New("disk"), "storage")},
		{apperr.CodeJSONError, apperr.NewJSONError(errors.New("json"), "bad json")},
		{apperr.CodeIOError, apperr.NewIOError(errors.New("io"), "bad io")},
		{apperr.CodeInvalidInput, apperr.NewInvalidInput("bad input")},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, apperr.Classify(c.err))
	}
}

func TestClassifyUnknownErrorIsInternal(t *testing.T) {
	assert.Equal(t, apperr.CodeInternalError, apperr.Classify(errors.New("boom")))
}

func TestClassifyNilIsEmpty(t *testing.T) {
	assert.Equal(t, apperr.Code(""), apperr.Classify(nil))
}
