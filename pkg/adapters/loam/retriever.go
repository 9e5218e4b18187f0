// Package loam serves treatment documents from a directory of Markdown notes. Each
// note carries the disease, crops and seasons it applies to in its frontmatter:
//
//	---
//	title: Copper spray for early blight
//	disease: early_blight
//	crops: [tomato, potato]
//	kind: chemical
//	---
//	Spray copper oxychloride 3 g/l every 10 days...
package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/aretw0/loam"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
)

// TreatmentMetadata is the frontmatter of a treatment note.
type TreatmentMetadata struct {
	ID      string   `json:"id" mapstructure:"id"`
	Title   string   `json:"title" mapstructure:"title"`
	Disease string   `json:"disease" mapstructure:"disease"`
	Crops   []string `json:"crops" mapstructure:"crops"`
	Seasons []string `json:"seasons" mapstructure:"seasons"`
	Regions []string `json:"regions" mapstructure:"regions"`

	// Kind is chemical, organic or preventive.
	Kind   string `json:"kind" mapstructure:"kind"`
	Source string `json:"source" mapstructure:"source"`
}

// Retriever implements ports.Retriever over a Loam repository. Notes are listed on
// every query, so edits show up without a restart. Only notes matching the disease are
// read in full.
type Retriever struct {
	Repo *loam.TypedRepository[TreatmentMetadata]
}

// New opens dir read-only.
func New(dir string) (*Retriever, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return &Retriever{Repo: loam.NewTypedRepository[TreatmentMetadata](repo)}, nil
}

// Retrieve implements ports.Retriever. A disease filter is mandatory when present;
// crop, season and location only rank the matches.
func (r *Retriever) Retrieve(ctx context.Context, q ports.RetrievalQuery) ([]ports.Document, error) {
	notes, err := r.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w: %w", domain.ErrDependencyUnavailable, err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 8
	}
	disease := normalize(q.Filters["disease"])

	docs := make([]ports.Document, 0, len(notes))
	for _, note := range notes {
		meta := note.Data
		if disease != "" && normalize(meta.Disease) != disease {
			continue
		}
		// List carries frontmatter only; the body needs a Get.
		doc, err := r.Repo.Get(ctx, note.ID)
		if err != nil {
			return nil, fmt.Errorf("loam get failed for %s: %w: %w", note.ID, domain.ErrDependencyUnavailable, err)
		}
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		id := meta.ID
		if id == "" {
			id = note.ID
		}
		title := meta.Title
		if title == "" {
			title = trimExtension(id)
		}
		source := meta.Source
		if source == "" {
			source = "notes/" + trimExtension(note.ID)
		}
		docs = append(docs, ports.Document{
			ID:      trimExtension(id),
			Title:   title,
			Content: content,
			Kind:    strings.ToLower(meta.Kind),
			Source:  source,
			Score:   relevance(meta, q.Filters),
		})
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// relevance weighs the optional filters. A note without crops, seasons or regions
// applies everywhere and earns the bonus too.
func relevance(meta TreatmentMetadata, filters map[string]string) float64 {
	score := 1.0
	for _, f := range []struct {
		key    string
		values []string
		weight float64
	}{
		{"crop", meta.Crops, 0.5},
		{"season", meta.Seasons, 0.25},
		{"location", meta.Regions, 0.25},
	} {
		want := normalize(filters[f.key])
		if want == "" {
			continue
		}
		if len(f.values) == 0 || slices.ContainsFunc(f.values, func(v string) bool { return normalize(v) == want }) {
			score += f.weight
		}
	}
	return score
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

var _ ports.Retriever = (*Retriever)(nil)
