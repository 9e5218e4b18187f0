// Package codec converts sessions to and from the bytes kept by session stores.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/sasya/pkg/domain"
)

// Codec serializes sessions for storage.
type Codec interface {
	Encode(s *domain.Session) ([]byte, error)
	Decode(data []byte) (*domain.Session, error)
}

// JSON is the plain JSON codec.
type JSON struct{}

// Encode implements Codec.
func (JSON) Encode(s *domain.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

// Decode implements Codec.
func (JSON) Decode(data []byte) (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// Default returns the codec used when a store is not given one.
func Default() Codec {
	return JSON{}
}
