package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aretw0/sasya/pkg/ports"
)

// ClassifyPath is the classifier endpoint. The service streams status lines and ends
// with its verdict.
const ClassifyPath = "/predict-leaf-classification?format=ndjson"

// Classifier calls the leaf classification service.
type Classifier struct {
	c *client
}

// NewClassifier creates a classifier client for the service at baseURL.
func NewClassifier(baseURL string, opts ...Option) (*Classifier, error) {
	c, err := newClient("classifier", baseURL, opts)
	if err != nil {
		return nil, err
	}
	return &Classifier{c: c}, nil
}

type classifyRequest struct {
	ImageB64 string `json:"image_b64"`
	Text     string `json:"text"`
}

// verdict accepts the field spellings the service has used.
type verdict struct {
	Label            string   `json:"label"`
	Disease          string   `json:"disease"`
	Confidence       *float64 `json:"confidence"`
	Attention        string   `json:"attention_b64"`
	AttentionOverlay string   `json:"attention_overlay"`
	AttentionURL     string   `json:"attention_url"`
}

func (v verdict) complete() bool {
	return (v.Label != "" || v.Disease != "") && v.Confidence != nil
}

// Classify implements ports.Classifier.
func (cl *Classifier) Classify(ctx context.Context, image []byte) (*ports.ClassifierResult, error) {
	req := classifyRequest{ImageB64: base64.StdEncoding.EncodeToString(image)}
	var out *ports.ClassifierResult
	err := cl.c.call(ctx, http.MethodPost, ClassifyPath, req, "application/x-ndjson", func(body []byte) error {
		v, err := parseVerdict(body)
		if err != nil {
			return err
		}
		out, err = v.result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (v verdict) result() (*ports.ClassifierResult, error) {
	label := v.Label
	if label == "" {
		label = v.Disease
	}
	res := &ports.ClassifierResult{Label: label, Confidence: *v.Confidence, AttentionRef: v.AttentionURL}
	att := v.Attention
	if att == "" {
		att = v.AttentionOverlay
	}
	if att != "" {
		data, err := base64.StdEncoding.DecodeString(att)
		if err != nil {
			return nil, errors.New("attention artifact is not base64")
		}
		res.Attention = data
	}
	return res, nil
}

// parseVerdict reads either a single JSON verdict or NDJSON lines of {"data": ...},
// where data is an object or a JSON-encoded string. The last complete verdict wins.
func parseVerdict(body []byte) (verdict, error) {
	var single verdict
	if err := json.Unmarshal(body, &single); err == nil && single.complete() {
		return single, nil
	}

	var last verdict
	found := false
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), maxResponseSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(line, &frame); err != nil || len(frame.Data) == 0 {
			continue
		}
		payload := []byte(frame.Data)
		var text string
		if json.Unmarshal(frame.Data, &text) == nil {
			payload = []byte(text)
		}
		var v verdict
		if json.Unmarshal(payload, &v) == nil && v.complete() {
			last, found = v, true
		}
	}
	if err := sc.Err(); err != nil {
		return verdict{}, err
	}
	if !found {
		return verdict{}, errors.New("no verdict in classifier response")
	}
	return last, nil
}
