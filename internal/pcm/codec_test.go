package pcm

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/nexus/domain"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, size := range []int{0, 1, 2, 3, 4, 5, 255, 8192} {
		b := make([]byte, size)
		rng.Read(b)

		got, err := Decode(Encode(b))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(b, got), "round trip mismatch for %d bytes", size)
	}
}

func TestDecodeEmpty(t *testing.T) {
	got, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "", Encode(nil))
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode("not*base64!")
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
	assert.True(t, domain.IsKind(err, domain.KindDecode))
}
