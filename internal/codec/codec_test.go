package codec_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwrt/webauthn-helper/internal/codec"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x00},
		{0xff, 0xfe, 0xfd},
		[]byte("the quick brown fox jumps over the lazy dog"),
	}
	for _, b := range cases {
		got, err := codec.DecodeBytes(codec.EncodeBytes(b))
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
}

func TestDecodeRejectsPaddingAndStandardAlphabet(t *testing.T) {
	for _, s := range []string{"AAAA=", "a+b", "a/b", "===="} {
		_, err := codec.DecodeBytes(s)
		assert.Error(t, err, "expected rejection of %q", s)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := codec.Now()
	parsed, err := codec.ParseTime(codec.FormatTime(now))
	require.NoError(t, err)
	assert.True(t, now.Equal(parsed))
	assert.True(t, parsed.Location() == time.UTC || parsed.UTC().Equal(parsed))
}

func TestNewUUIDIsCanonical(t *testing.T) {
	id := codec.NewUUID()
	_, err := codec.ParseUUID(id)
	require.NoError(t, err)
	assert.Len(t, id, 36)
}
