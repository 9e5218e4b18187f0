package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/sasya/pkg/domain"
)

var (
	// DefaultMaxInputSize bounds a message in bytes.
	DefaultMaxInputSize = 4096
	// EnvMaxInputSize overrides DefaultMaxInputSize.
	EnvMaxInputSize = "SASYA_MAX_INPUT_SIZE"
	// MaxImageSize bounds an uploaded image in bytes.
	MaxImageSize = 8 << 20
)

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
	ErrEmptyInput    = errors.New("message and image are both empty")
	ErrImageTooLarge = errors.New("image exceeds maximum allowed size")
	ErrNotAnImage    = errors.New("attachment is not an image")
)

// SanitizeMessage enforces the size limit, validates UTF-8 and strips control
// characters other than newline, tab and carriage return.
func SanitizeMessage(input string) (string, error) {
	limit := maxInputSize()
	if len(input) > limit {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}
	if strings.IndexFunc(input, unsafeControl) < 0 {
		return strings.TrimSpace(input), nil
	}
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unsafeControl(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func unsafeControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
}

func maxInputSize() int {
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxInputSize
}

// SanitizeImage checks an upload and addresses it by its SHA-256 digest.
func SanitizeImage(data []byte) (*domain.Image, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("%w: size=%d limit=%d", ErrImageTooLarge, len(data), MaxImageSize)
	}
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotAnImage, ct)
	}
	return &domain.Image{
		Digest:      Digest(data),
		ContentType: ct,
		Data:        append([]byte(nil), data...),
	}, nil
}

// Digest is the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Prepare validates a raw turn submission. Errors wrap domain.ErrInvalidInput.
func Prepare(message string, image []byte, context map[string]any) (Input, error) {
	msg, err := SanitizeMessage(message)
	if err != nil {
		return Input{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	img, err := SanitizeImage(image)
	if err != nil {
		return Input{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	hints, err := DecodeHints(context)
	if err != nil {
		return Input{}, fmt.Errorf("%w: context: %w", domain.ErrInvalidInput, err)
	}
	if msg == "" && img == nil && hints.IsEmpty() {
		return Input{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, ErrEmptyInput)
	}
	return Input{Message: msg, Image: img, Hints: hints}, nil
}
