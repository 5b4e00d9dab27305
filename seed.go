package fw24

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"
)

// JSONAPIDocument is an array of JSON:API primary resources.
type JSONAPIDocument []JSONAPIResource

// JSONAPIResource represents a single resource in JSON:API format.
type JSONAPIResource struct {
	Type          string                         `json:"type"`
	ID            string                         `json:"id"`
	Attributes    map[string]any                 `json:"attributes,omitempty"`
	Relationships map[string]JSONAPIRelationship `json:"relationships,omitempty"`
}

// JSONAPIRelationship represents a relationship in JSON:API format. Data is
// a resource identifier, an array of them, or null.
type JSONAPIRelationship struct {
	Data json.RawMessage `json:"data"`
}

// JSONAPIResourceIdentifier represents a resource identifier in JSON:API format.
type JSONAPIResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Seeder writes JSON:API documents into a Persistence. The resource type
// names the entity schema; the resource id fills the schema's identifier.
// A to-one relationship stores the related id in the relation attribute, a
// to-many relationship stores the list of related ids.
type Seeder struct {
	store   Persistence
	schemas SchemaLookup
	logger  *zap.Logger
}

// NewSeeder creates a seeder writing to store. A nil logger discards output.
func NewSeeder(store Persistence, schemas SchemaLookup, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{store: store, schemas: schemas, logger: logger}
}

// SeedFromJSON parses a JSON:API document from r and persists every
// resource in document order. It returns the number of records written.
func (s *Seeder) SeedFromJSON(ctx context.Context, r io.Reader) (int, error) {
	var document JSONAPIDocument
	if err := json.NewDecoder(r).Decode(&document); err != nil {
		return 0, fmt.Errorf("failed to parse JSON document: %w", err)
	}

	type pending struct {
		schema *Schema
		record Record
	}
	records := make([]pending, 0, len(document))
	for i, resource := range document {
		schema, rec, err := s.convertResource(resource)
		if err != nil {
			return 0, fmt.Errorf("failed to convert resource at index %d: %w", i, err)
		}
		records = append(records, pending{schema: schema, record: rec})
	}

	count := 0
	for _, p := range records {
		if _, err := s.store.CreateEntity(ctx, CreateEntityInput{Schema: p.schema, Data: p.record}); err != nil {
			return count, fmt.Errorf("failed to seed %s %v: %w", p.schema.Entity, p.record[p.schema.Identifier()], err)
		}
		count++
	}
	s.logger.Info("seeded records", zap.Int("count", count))
	return count, nil
}

func (s *Seeder) convertResource(resource JSONAPIResource) (*Schema, Record, error) {
	if resource.Type == "" {
		return nil, nil, fmt.Errorf("%w: resource missing required 'type' field", ErrInvalidArgument)
	}
	if resource.ID == "" {
		return nil, nil, fmt.Errorf("%w: resource missing required 'id' field", ErrInvalidArgument)
	}
	schema, ok := s.schemas.Schema(resource.Type)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no schema for entity %q", ErrConfiguration, resource.Type)
	}

	rec := make(Record, len(resource.Attributes)+len(resource.Relationships)+1)
	for k, v := range resource.Attributes {
		rec[k] = v
	}
	id, err := coerceID(schema, resource.ID)
	if err != nil {
		return nil, nil, err
	}
	rec[schema.Identifier()] = id

	for name, rel := range resource.Relationships {
		value, err := s.relationshipValue(rel.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to convert relationship '%s': %w", name, err)
		}
		if attr, ok := schema.Attribute(name); !ok || attr.Relation == nil {
			s.logger.Warn("relationship is not a relation attribute",
				zap.String("entity", schema.Entity), zap.String("attribute", name))
		}
		if value != nil {
			rec[name] = value
		}
	}
	return schema, rec, nil
}

func (s *Seeder) relationshipValue(data json.RawMessage) (any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	if data[0] == '[' {
		var ids []JSONAPIResourceIdentifier
		if err := json.Unmarshal(data, &ids); err != nil {
			return nil, fmt.Errorf("failed to parse resource identifiers: %w", err)
		}
		values := make([]any, 0, len(ids))
		for i, id := range ids {
			if err := id.validate(); err != nil {
				return nil, fmt.Errorf("identifier at index %d: %w", i, err)
			}
			v, err := s.relatedID(id)
			if err != nil {
				return nil, fmt.Errorf("identifier at index %d: %w", i, err)
			}
			values = append(values, v)
		}
		return values, nil
	}

	var id JSONAPIResourceIdentifier
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("relationship data must be an object or array of objects: %w", err)
	}
	if err := id.validate(); err != nil {
		return nil, err
	}
	return s.relatedID(id)
}

// relatedID coerces a relationship id to the related entity's identifier
// type. Unknown types keep the string id.
func (s *Seeder) relatedID(id JSONAPIResourceIdentifier) (any, error) {
	schema, ok := s.schemas.Schema(id.Type)
	if !ok {
		return id.ID, nil
	}
	return coerceID(schema, id.ID)
}

// coerceID converts a JSON:API id, always a string, to the declared type of
// the schema's identifier attribute.
func coerceID(schema *Schema, id string) (any, error) {
	attr, ok := schema.Attribute(schema.Identifier())
	if !ok || attr.Type != TypeNumber {
		return id, nil
	}
	n, err := strconv.ParseFloat(id, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s id %q is not a number", ErrInvalidArgument, schema.Entity, id)
	}
	return n, nil
}

func (id JSONAPIResourceIdentifier) validate() error {
	if id.Type == "" {
		return fmt.Errorf("%w: resource identifier missing required 'type' field", ErrInvalidArgument)
	}
	if id.ID == "" {
		return fmt.Errorf("%w: resource identifier missing required 'id' field", ErrInvalidArgument)
	}
	return nil
}
