// Package tagschema validates classification-service responses at the
// boundary into a strict internal representation. Any shape mismatch is
// reported as a validation error instead of surfacing as ad hoc field
// access failures downstream.
package tagschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed tagged_articles.schema.json
var taggedArticlesSchemaJSON string

// TaggedItem is one classified article as returned by the service.
type TaggedItem struct {
	Title     string   `json:"title"`
	Summary   *string  `json:"summary,omitempty"`
	Link      string   `json:"link"`
	Published *string  `json:"published,omitempty"`
	Updated   *string  `json:"updated,omitempty"`
	Source    *string  `json:"source,omitempty"`
	Tags      []string `json:"tags"`
}

// TaggedBatch is the full structured response for one classification call.
type TaggedBatch struct {
	Articles []TaggedItem `json:"articles"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateTaggedBatch parses and validates a classifier response. The service
// may return fewer articles than it was given (off-topic drops), but every
// article it does return must carry a valid title, link, and tag list.
func ValidateTaggedBatch(payload json.RawMessage) (*TaggedBatch, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode response JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize response JSON: %w", err)
	}

	var batch TaggedBatch
	if err := json.Unmarshal(normalized, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if err := validateSemantics(&batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("tagged_articles.schema.json", strings.NewReader(taggedArticlesSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("tagged_articles.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("response is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("response contains trailing content")
	}

	return value, nil
}

func validateSemantics(batch *TaggedBatch) error {
	if batch == nil {
		return fmt.Errorf("response is nil")
	}

	for i, item := range batch.Articles {
		if strings.TrimSpace(item.Title) == "" {
			return fmt.Errorf("articles[%d].title must not be empty", i)
		}
		if err := validateHTTPURI(fmt.Sprintf("articles[%d].link", i), item.Link); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPURI(fieldName, raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("%s must be a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", fieldName)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must be absolute", fieldName)
	}
	return nil
}
