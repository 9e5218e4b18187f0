package codec_test

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/persistence/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func sampleSession() *domain.Session {
	s := domain.NewSession("sealed-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	s.Profile.Location = "Ludhiana"
	s.Append(domain.RoleUser, "my wheat has rust", s.CreatedAt)
	return s
}

func TestSealed_Roundtrip(t *testing.T) {
	c, err := codec.NewSealed(nil, codec.KeyConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)

	data, err := c.Encode(sampleSession())
	require.NoError(t, err)
	assert.False(t, bytes.Contains(data, []byte("Ludhiana")), "location must not be stored in clear text")

	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sampleSession(), got)
}

func TestSealed_KeyRotation(t *testing.T) {
	oldKey, newKey := generateKey(t), generateKey(t)
	oldCodec, err := codec.NewSealed(codec.JSON{}, codec.KeyConfig{ActiveKey: oldKey})
	require.NoError(t, err)
	newCodec, err := codec.NewSealed(codec.JSON{}, codec.KeyConfig{ActiveKey: newKey, FallbackKeys: [][]byte{oldKey}})
	require.NoError(t, err)

	data, err := oldCodec.Encode(sampleSession())
	require.NoError(t, err)

	got, err := newCodec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "Ludhiana", got.Profile.Location)

	data, err = newCodec.Encode(got)
	require.NoError(t, err)
	_, err = oldCodec.Decode(data)
	assert.Error(t, err, "old key alone must not open data sealed with the new key")
}

func TestSealed_RejectsPlainPayload(t *testing.T) {
	c, err := codec.NewSealed(nil, codec.KeyConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)

	plain, err := codec.JSON{}.Encode(sampleSession())
	require.NoError(t, err)
	_, err = c.Decode(plain)
	assert.ErrorContains(t, err, "sealed envelope")
}

func TestSealed_InvalidKey(t *testing.T) {
	_, err := codec.NewSealed(nil, codec.KeyConfig{ActiveKey: []byte("short-key")})
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	k := generateKey(t)
	got, err := codec.ParseKey(base64.StdEncoding.EncodeToString(k))
	require.NoError(t, err)
	assert.Equal(t, k, got)

	_, err = codec.ParseKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
	_, err = codec.ParseKey("!!!")
	assert.Error(t, err)
}
