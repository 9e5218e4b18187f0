// Package stub provides deterministic in-process collaborators for tests, demos and
// offline runs. Every stub counts its calls and can be told to fail or stall.
package stub

import (
	"context"
	"crypto/sha256"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/sasya/pkg/ports"
)

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Labels cycled by the default classifier.
var Labels = []string{"early_blight", "late_blight", "powdery_mildew", "leaf_curl", "healthy"}

// Classifier returns a fixed verdict, or one derived from the image digest when Label is empty.
type Classifier struct {
	Label      string
	Confidence float64
	Attention  []byte
	Err        error
	Delay      time.Duration

	calls atomic.Int64
}

// NewClassifier returns a classifier that derives labels from image content.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify implements ports.Classifier.
func (c *Classifier) Classify(ctx context.Context, image []byte) (*ports.ClassifierResult, error) {
	c.calls.Add(1)
	if err := wait(ctx, c.Delay); err != nil {
		return nil, err
	}
	if c.Err != nil {
		return nil, c.Err
	}
	label, conf := c.Label, c.Confidence
	if label == "" {
		sum := sha256.Sum256(image)
		label = Labels[int(sum[0])%len(Labels)]
		conf = 0.55 + float64(sum[1]%45)/100
	}
	att := c.Attention
	if att == nil {
		att = []byte("attention:" + label)
	}
	return &ports.ClassifierResult{Label: label, Confidence: conf, Attention: att}, nil
}

// Calls reports how many times Classify ran.
func (c *Classifier) Calls() int {
	return int(c.calls.Load())
}

// Retriever serves documents from an in-memory list filtered by disease.
type Retriever struct {
	Docs  []ports.Document
	Err   error
	Delay time.Duration

	mu      sync.Mutex
	queries []ports.RetrievalQuery
}

// NewRetriever returns a retriever seeded with Library.
func NewRetriever() *Retriever {
	return &Retriever{Docs: slices.Clone(Library)}
}

// Retrieve implements ports.Retriever. Documents whose ID starts with the disease
// filter match; an empty disease filter matches everything.
func (r *Retriever) Retrieve(ctx context.Context, q ports.RetrievalQuery) ([]ports.Document, error) {
	r.mu.Lock()
	r.queries = append(r.queries, q)
	r.mu.Unlock()
	if err := wait(ctx, r.Delay); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	disease := q.Filters["disease"]
	var out []ports.Document
	for _, d := range r.Docs {
		if disease != "" && !strings.HasPrefix(d.ID, disease) {
			continue
		}
		out = append(out, d)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Queries returns the queries received so far.
func (r *Retriever) Queries() []ports.RetrievalQuery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.queries)
}

// LLM answers with Reply, or with the output of Func when set.
type LLM struct {
	Reply string
	Func  func(prompt string) string
	Err   error
	Delay time.Duration

	mu      sync.Mutex
	prompts []string
}

// NewLLM returns an LLM that gives a short canned answer.
func NewLLM() *LLM {
	return &LLM{Reply: "Keep the foliage dry and check the plants again in three days."}
}

// Complete implements ports.LLM.
func (l *LLM) Complete(ctx context.Context, prompt string) (string, error) {
	l.mu.Lock()
	l.prompts = append(l.prompts, prompt)
	l.mu.Unlock()
	if err := wait(ctx, l.Delay); err != nil {
		return "", err
	}
	if l.Err != nil {
		return "", l.Err
	}
	if l.Func != nil {
		return l.Func(prompt), nil
	}
	return l.Reply, nil
}

// Prompts returns the prompts received so far.
func (l *LLM) Prompts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.prompts)
}

// Vendors serves a fixed directory, matching location case-insensitively.
type Vendors struct {
	Directory []ports.Vendor
	Err       error
	Delay     time.Duration

	calls atomic.Int64
}

// NewVendors returns a directory seeded with Directory.
func NewVendors() *Vendors {
	return &Vendors{Directory: slices.Clone(Directory)}
}

// Lookup implements ports.VendorLookup.
func (v *Vendors) Lookup(ctx context.Context, q ports.VendorQuery) ([]ports.Vendor, error) {
	v.calls.Add(1)
	if err := wait(ctx, v.Delay); err != nil {
		return nil, err
	}
	if v.Err != nil {
		return nil, v.Err
	}
	var out []ports.Vendor
	for _, vendor := range v.Directory {
		if q.Location != "" && !strings.EqualFold(vendor.Location, q.Location) {
			continue
		}
		vendor.Products = slices.Clone(vendor.Products)
		out = append(out, vendor)
	}
	return out, nil
}

// Calls reports how many lookups ran.
func (v *Vendors) Calls() int {
	return int(v.calls.Load())
}
