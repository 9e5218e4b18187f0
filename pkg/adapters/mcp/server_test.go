package mcp

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/aretw0/sasya/internal/testutils"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *Server {
	return NewServer(testutils.NewEngine(t, "powdery_mildew", 0.88), nil)
}

func TestSubmitTurn(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	res, err := s.handleSubmitTurn(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"session_id": "m1",
		"message":    "White powder on my grape leaves",
		"image_b64":  base64.StdEncoding.EncodeToString(testutils.Leaf),
		"context":    `{"crop":"grape","location":"Nashik"}`,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "m1", res.SessionID)
	assert.Equal(t, domain.StateFollowUp, res.State)

	got, err := s.handleGetSession(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "m1"})
	require.NoError(t, err)
	require.NotNil(t, got.Diagnosis)
	assert.Equal(t, "powdery_mildew", got.Diagnosis.Label)
	assert.Equal(t, "grape", got.Profile.Crop)
	assert.NotEmpty(t, got.Messages)
	assert.NotEmpty(t, got.Actions)

	reset, err := s.handleResetSession(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "m1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateInitial, reset.State)
	assert.Nil(t, reset.Diagnosis)
}

func TestSubmitTurn_BadArguments(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	_, err := s.handleSubmitTurn(ctx, mcp.CallToolRequest{}, map[string]interface{}{"message": "hi", "image_b64": "%%%"})
	assert.Error(t, err)

	_, err = s.handleSubmitTurn(ctx, mcp.CallToolRequest{}, map[string]interface{}{"message": "hi", "context": "[1,2]"})
	assert.Error(t, err)

	_, err = s.handleGetSession(ctx, mcp.CallToolRequest{}, map[string]interface{}{})
	assert.Error(t, err)

	_, err = s.handleGetSession(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "missing"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
