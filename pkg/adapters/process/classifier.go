// Package process runs a local classifier program, for deployments where the model
// lives next to the service instead of behind an HTTP endpoint.
//
// The program receives the image on stdin and must print one JSON object:
//
//	{"label": "early_blight", "confidence": 0.91, "attention": "<base64 png>"}
//
// A non-zero exit is reported as a dependency failure, with stderr attached.
package process

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
)

// Config describes the program to run.
type Config struct {
	Command string
	Args    []string

	// Env is added to the inherited environment.
	Env map[string]string

	// Dir is the working directory; empty means the current one.
	Dir string

	// WaitDelay bounds how long a canceled program may linger before it is killed.
	WaitDelay time.Duration
}

// Classifier implements ports.Classifier by executing Config.Command once per image.
type Classifier struct {
	cfg Config
}

// NewClassifier checks that the command can be found.
func NewClassifier(cfg Config) (*Classifier, error) {
	if cfg.Command == "" {
		return nil, errors.New("classifier command is required")
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, fmt.Errorf("classifier command: %w", err)
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 2 * time.Second
	}
	return &Classifier{cfg: cfg}, nil
}

type output struct {
	Label        string  `json:"label"`
	Confidence   float64 `json:"confidence"`
	Attention    []byte  `json:"attention,omitempty"`
	AttentionRef string  `json:"attention_ref,omitempty"`
}

// Classify implements ports.Classifier.
func (c *Classifier) Classify(ctx context.Context, image []byte) (*ports.ClassifierResult, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	cmd.WaitDelay = c.cfg.WaitDelay

	// Arguments travel as environment variables, never as flags.
	sum := sha256.Sum256(image)
	env := []string{
		"SASYA_IMAGE_SHA256=" + hex.EncodeToString(sum[:]),
		fmt.Sprintf("SASYA_IMAGE_SIZE=%d", len(image)),
	}
	for k, v := range c.cfg.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = append(cmd.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(image)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("classifier process failed: %w: %w. Stderr: %s",
			domain.ErrDependencyUnavailable, err, strings.TrimSpace(stderr.String()))
	}

	var out output
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return nil, fmt.Errorf("classifier output is not JSON: %w: %w", domain.ErrDependencyUnavailable, err)
	}
	if out.Label == "" {
		return nil, fmt.Errorf("classifier output has no label: %w", domain.ErrDependencyUnavailable)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("classifier confidence %v out of range: %w", out.Confidence, domain.ErrDependencyUnavailable)
	}
	return &ports.ClassifierResult{
		Label:        out.Label,
		Confidence:   out.Confidence,
		Attention:    out.Attention,
		AttentionRef: out.AttentionRef,
	}, nil
}

var _ ports.Classifier = (*Classifier)(nil)
