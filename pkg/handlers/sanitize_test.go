package handlers

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func fakeImage(tag string) []byte {
	return append(append([]byte(nil), pngHeader...), tag...)
}

func TestSanitizeMessage_SizeLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"Under Limit", DefaultMaxInputSize - 1, false},
		{"Exact Limit", DefaultMaxInputSize, false},
		{"Over Limit", DefaultMaxInputSize + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SanitizeMessage(strings.Repeat("a", tt.size))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInputTooLarge)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeMessage_EnvOverride(t *testing.T) {
	t.Setenv(EnvMaxInputSize, "8")
	_, err := SanitizeMessage("123456789")
	assert.ErrorIs(t, err, ErrInputTooLarge)

	t.Setenv(EnvMaxInputSize, "not-a-number")
	_, err = SanitizeMessage("123456789")
	assert.NoError(t, err)
}

func TestSanitizeMessage_ControlChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Normal Text", "tomato leaves", "tomato leaves"},
		{"Safe Controls", "Line1\nLine2\tTabbed", "Line1\nLine2\tTabbed"},
		{"ANSI Code", "\x1b[31mRed\x1b[0m", "[31mRed[0m"},
		{"Null Byte", "Null\x00Byte", "NullByte"},
		{"Trimmed", "  spots  ", "spots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeMessage(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := SanitizeMessage("bad \xff utf8")
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestSanitizeImage(t *testing.T) {
	img, err := SanitizeImage(fakeImage("leaf"))
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Len(t, img.Digest, 64)
	assert.Equal(t, Digest(fakeImage("leaf")), img.Digest)

	img, err = SanitizeImage(nil)
	assert.NoError(t, err)
	assert.Nil(t, img)

	_, err = SanitizeImage([]byte("just some text"))
	assert.ErrorIs(t, err, ErrNotAnImage)

	_, err = SanitizeImage(bytes.Repeat([]byte{0}, MaxImageSize+1))
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestPrepare(t *testing.T) {
	in, err := Prepare("  my tomato  ", fakeImage("x"), map[string]any{"location": "Pune"})
	require.NoError(t, err)
	assert.Equal(t, "my tomato", in.Message)
	assert.NotNil(t, in.Image)
	assert.Equal(t, "Pune", in.Hints.Location)

	_, err = Prepare("   ", nil, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Prepare("hi", []byte("not an image"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
