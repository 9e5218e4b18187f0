package http

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

var (
	swaggerOnce sync.Once
	swagger     *openapi3.T
	swaggerErr  error
)

// rawSpec returns the embedded OpenAPI document.
func rawSpec() []byte {
	return specYAML
}

// GetSwagger parses and validates the embedded OpenAPI document.
func GetSwagger() (*openapi3.T, error) {
	swaggerOnce.Do(func() {
		doc, err := openapi3.NewLoader().LoadFromData(specYAML)
		if err != nil {
			swaggerErr = fmt.Errorf("failed to load openapi spec: %w", err)
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			swaggerErr = fmt.Errorf("invalid openapi spec: %w", err)
			return
		}
		swagger = doc
	})
	return swagger, swaggerErr
}

// validateTurnRequest checks a decoded request body against the TurnRequest schema.
func validateTurnRequest(body map[string]any) error {
	doc, err := GetSwagger()
	if err != nil {
		return err
	}
	ref, ok := doc.Components.Schemas["TurnRequest"]
	if !ok || ref.Value == nil {
		return fmt.Errorf("schema TurnRequest not found")
	}
	return ref.Value.VisitJSON(body)
}
