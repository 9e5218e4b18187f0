package ports

import (
	"context"

	"github.com/aretw0/sasya/pkg/domain"
)

// ClassifierResult is the verdict of the image classifier.
type ClassifierResult struct {
	Label      string
	Confidence float64

	// Attention holds the raw attention artifact, when the service returns one inline.
	Attention []byte

	// AttentionRef points at an artifact hosted by the service itself.
	AttentionRef string
}

// Classifier maps plant images to disease labels.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (*ClassifierResult, error)
}

// RetrievalQuery asks the treatment knowledge base for documents.
type RetrievalQuery struct {
	Text    string
	Filters map[string]string
	Limit   int
}

// Document is one retrieved treatment document.
type Document struct {
	ID      string
	Title   string
	Content string

	// Kind is the treatment kind when the source labels it (chemical, organic, preventive).
	Kind   string
	Source string
	Score  float64
}

// Retriever is the retrieval-augmented treatment engine.
type Retriever interface {
	Retrieve(ctx context.Context, q RetrievalQuery) ([]Document, error)
}

// LLM generates text from a prompt.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// VendorQuery filters the vendor directory.
type VendorQuery struct {
	Location      string
	Products      []string
	OrganicOnly   bool
	Delivery      bool
	BudgetCeiling float64
	Limit         int
}

// Vendor is a seller returned by the lookup service.
type Vendor struct {
	Name       string
	Location   string
	Contact    string
	DistanceKm float64
	Price      float64
	Products   []string
	Organic    bool
	Delivery   bool
}

// VendorLookup finds sellers for prescribed treatments.
type VendorLookup interface {
	Lookup(ctx context.Context, q VendorQuery) ([]Vendor, error)
}

// ArtifactStore keeps binary artifacts (attention maps) addressable by reference.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// EventSink receives turn events for fan-out to other systems.
type EventSink interface {
	Publish(ctx context.Context, event domain.OutputEvent) error
}
