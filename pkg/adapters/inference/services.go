package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aretw0/sasya/pkg/ports"
)

// Retriever calls the treatment retrieval service (POST /retrieve).
type Retriever struct {
	c *client
}

// NewRetriever creates a retrieval client for the service at baseURL.
func NewRetriever(baseURL string, opts ...Option) (*Retriever, error) {
	c, err := newClient("retriever", baseURL, opts)
	if err != nil {
		return nil, err
	}
	return &Retriever{c: c}, nil
}

type retrieveRequest struct {
	Query   string            `json:"query"`
	Filters map[string]string `json:"filters,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

type document struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Kind    string  `json:"kind"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Retrieve implements ports.Retriever.
func (r *Retriever) Retrieve(ctx context.Context, q ports.RetrievalQuery) ([]ports.Document, error) {
	var out struct {
		Documents []document `json:"documents"`
	}
	err := r.c.call(ctx, http.MethodPost, "/retrieve", retrieveRequest{Query: q.Text, Filters: q.Filters, Limit: q.Limit}, "application/json",
		func(body []byte) error { return json.Unmarshal(body, &out) })
	if err != nil {
		return nil, err
	}
	docs := make([]ports.Document, 0, len(out.Documents))
	for _, d := range out.Documents {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		docs = append(docs, ports.Document(d))
	}
	return docs, nil
}

// LLM calls an OpenAI-compatible chat completions endpoint (Ollama, vLLM, OpenAI).
type LLM struct {
	c           *client
	model       string
	temperature float64
}

// NewLLM creates a chat client. baseURL is the API root, e.g. http://localhost:11434/v1.
func NewLLM(baseURL, model string, opts ...Option) (*LLM, error) {
	if model == "" {
		return nil, errors.New("llm: model is required")
	}
	c, err := newClient("llm", baseURL, opts)
	if err != nil {
		return nil, err
	}
	return &LLM{c: c, model: model, temperature: 0.2}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements ports.LLM.
func (l *LLM) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       l.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: l.temperature,
	}
	var text string
	err := l.c.call(ctx, http.MethodPost, "/chat/completions", req, "application/json", func(body []byte) error {
		var resp chatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return err
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return errors.New("no completion in response")
		}
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	return text, err
}

// Vendors calls the vendor directory service (POST /vendors/search).
type Vendors struct {
	c *client
}

// NewVendors creates a vendor lookup client for the service at baseURL.
func NewVendors(baseURL string, opts ...Option) (*Vendors, error) {
	c, err := newClient("vendors", baseURL, opts)
	if err != nil {
		return nil, err
	}
	return &Vendors{c: c}, nil
}

type vendorQuery struct {
	Location      string   `json:"location"`
	Products      []string `json:"products,omitempty"`
	OrganicOnly   bool     `json:"organic_only,omitempty"`
	Delivery      bool     `json:"delivery,omitempty"`
	BudgetCeiling float64  `json:"budget_ceiling,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

type vendor struct {
	Name       string   `json:"name"`
	Location   string   `json:"location"`
	Contact    string   `json:"contact"`
	DistanceKm float64  `json:"distance_km"`
	Price      float64  `json:"price"`
	Products   []string `json:"products"`
	Organic    bool     `json:"organic"`
	Delivery   bool     `json:"delivery"`
}

// Lookup implements ports.VendorLookup.
func (v *Vendors) Lookup(ctx context.Context, q ports.VendorQuery) ([]ports.Vendor, error) {
	var out struct {
		Vendors []vendor `json:"vendors"`
	}
	err := v.c.call(ctx, http.MethodPost, "/vendors/search", vendorQuery(q), "application/json",
		func(body []byte) error { return json.Unmarshal(body, &out) })
	if err != nil {
		return nil, err
	}
	vendors := make([]ports.Vendor, 0, len(out.Vendors))
	for _, vd := range out.Vendors {
		vendors = append(vendors, ports.Vendor(vd))
	}
	return vendors, nil
}

var (
	_ ports.Classifier   = (*Classifier)(nil)
	_ ports.Retriever    = (*Retriever)(nil)
	_ ports.LLM          = (*LLM)(nil)
	_ ports.VendorLookup = (*Vendors)(nil)
)
