// Package qdrant serves treatment documents from a Qdrant collection whose points carry
// the disease, crop and season they apply to in their payload.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/qdrant/go-client/qdrant"
)

// Config holds Qdrant connection settings.
type Config struct {
	// URL is the gRPC address, e.g. "https://xyz.qdrant.io:6334".
	URL        string
	Collection string
	APIKey     string
}

// scroller is the part of *qdrant.Client the retriever uses.
type scroller interface {
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
}

// Retriever implements ports.Retriever with a payload-filtered scroll.
type Retriever struct {
	client     scroller
	closer     func() error
	collection string
}

// New connects to Qdrant.
func New(cfg Config) (*Retriever, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &Retriever{client: client, closer: client.Close, collection: cfg.Collection}, nil
}

// Retrieve implements ports.Retriever. Points must match the disease filter; crop and
// season matches only raise the score.
func (r *Retriever) Retrieve(ctx context.Context, q ports.RetrievalQuery) ([]ports.Document, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 8
	}
	// Over-fetch so local re-ranking has candidates to choose from.
	fetch := uint32(limit * 4)
	points, err := r.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: r.collection,
		Filter:         buildFilter(q.Filters),
		Limit:          &fetch,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll: %w: %w", domain.ErrDependencyUnavailable, err)
	}

	docs := make([]ports.Document, 0, len(points))
	for _, p := range points {
		d := toDocument(p)
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		d.Score = relevance(p.Payload, q.Filters)
		docs = append(docs, d)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Close releases the connection.
func (r *Retriever) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

func buildFilter(filters map[string]string) *qdrant.Filter {
	disease := filters["disease"]
	if disease == "" {
		return nil
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{keyword("disease", disease)}}
}

func keyword(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func relevance(payload map[string]*qdrant.Value, filters map[string]string) float64 {
	score := 1.0
	for key, weight := range map[string]float64{"crop": 0.5, "season": 0.25, "location": 0.25} {
		want := filters[key]
		if want == "" {
			continue
		}
		if strings.EqualFold(stringValue(payload[key]), want) {
			score += weight
		}
	}
	return score
}

func toDocument(p *qdrant.RetrievedPoint) ports.Document {
	d := ports.Document{Source: "qdrant"}
	if p.Id != nil {
		if id := p.Id.GetUuid(); id != "" {
			d.ID = id
		} else {
			d.ID = strconv.FormatUint(p.Id.GetNum(), 10)
		}
	}
	d.Title = stringValue(p.Payload["title"])
	d.Content = stringValue(p.Payload["content"])
	d.Kind = stringValue(p.Payload["kind"])
	if src := stringValue(p.Payload["source"]); src != "" {
		d.Source = src
	}
	return d
}

func stringValue(v *qdrant.Value) string {
	if v == nil {
		return ""
	}
	return v.GetStringValue()
}

var _ ports.Retriever = (*Retriever)(nil)
