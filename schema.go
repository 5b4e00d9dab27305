package fw24

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Record is a single entity record as seen by callers and stores.
type Record = map[string]any

// Identifiers holds the attribute values that address a record.
type Identifiers = map[string]any

// AttributeType is the storage shape of an attribute.
type AttributeType string

const (
	TypeString  AttributeType = "string"
	TypeNumber  AttributeType = "number"
	TypeBoolean AttributeType = "boolean"
	TypeMap     AttributeType = "map"
	TypeList    AttributeType = "list"
	TypeSet     AttributeType = "set"
	TypeAny     AttributeType = "any"
)

func (t AttributeType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeMap, TypeList, TypeSet, TypeAny:
		return true
	}
	return false
}

// Definition is the declarative description of an entity. It is usually
// loaded from YAML with [ParseSchemas] and compiled with [NewSchema].
type Definition struct {
	Entity           string                `yaml:"entity" json:"entity"`
	EntityNamePlural string                `yaml:"entityNamePlural,omitempty" json:"entityNamePlural,omitempty"`
	Attributes       []AttributeDefinition `yaml:"attributes" json:"attributes"`
	Indexes          []IndexDefinition     `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

// IndexDefinition declares a composite index. The partition key attributes
// come first, followed by the sort key attributes.
type IndexDefinition struct {
	Name         string   `yaml:"name" json:"name"`
	IndexName    string   `yaml:"indexName,omitempty" json:"indexName,omitempty"` // storage index; defaults to Name
	PartitionKey []string `yaml:"partitionKey" json:"partitionKey"`
	SortKey      []string `yaml:"sortKey,omitempty" json:"sortKey,omitempty"`
}

// IdentifierMapping pairs a source attribute path on one entity with the
// target attribute on the related entity.
type IdentifierMapping struct {
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
}

// RelationDefinition declares that an attribute references another entity.
type RelationDefinition struct {
	Entity      string              `yaml:"entity" json:"entity"`
	Identifiers []IdentifierMapping `yaml:"identifiers,omitempty" json:"identifiers,omitempty"`
}

// AttributeDefinition declares one attribute. The Is* flags are pointers so
// an absent flag can be told apart from an explicit false; absent means true.
type AttributeDefinition struct {
	Name         string                `yaml:"name" json:"name"`
	Label        string                `yaml:"label,omitempty" json:"label,omitempty"`
	Type         AttributeType         `yaml:"type,omitempty" json:"type,omitempty"`
	IsIdentifier bool                  `yaml:"isIdentifier,omitempty" json:"isIdentifier,omitempty"`
	Required     bool                  `yaml:"required,omitempty" json:"required,omitempty"`
	Hidden       bool                  `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	IsVisible    *bool                 `yaml:"isVisible,omitempty" json:"isVisible,omitempty"`
	IsEditable   *bool                 `yaml:"isEditable,omitempty" json:"isEditable,omitempty"`
	IsListable   *bool                 `yaml:"isListable,omitempty" json:"isListable,omitempty"`
	IsCreatable  *bool                 `yaml:"isCreatable,omitempty" json:"isCreatable,omitempty"`
	IsFilterable *bool                 `yaml:"isFilterable,omitempty" json:"isFilterable,omitempty"`
	IsSearchable *bool                 `yaml:"isSearchable,omitempty" json:"isSearchable,omitempty"`
	Relation     *RelationDefinition   `yaml:"relation,omitempty" json:"relation,omitempty"`
	Properties   []AttributeDefinition `yaml:"properties,omitempty" json:"properties,omitempty"`
	Items        *AttributeDefinition  `yaml:"items,omitempty" json:"items,omitempty"`
}

// Relation is the compiled form of a RelationDefinition. An empty
// Identifiers list means identifier-of-source to identifier-of-target.
type Relation struct {
	Entity      string              `yaml:"entity" json:"entity"`
	Identifiers []IdentifierMapping `yaml:"identifiers,omitempty" json:"identifiers,omitempty"`
}

// Attribute is a fully resolved attribute: every flag carries its final value.
type Attribute struct {
	Name         string
	Label        string
	Type         AttributeType
	IsIdentifier bool
	Required     bool
	Hidden       bool
	IsVisible    bool
	IsEditable   bool
	IsListable   bool
	IsCreatable  bool
	IsFilterable bool
	IsSearchable bool
	Relation     *Relation
	Properties   []*Attribute
	Items        *Attribute
}

// Schema is the compiled, immutable form of a Definition. It is safe for
// concurrent use; derived access patterns are computed once on first use.
type Schema struct {
	Entity           string
	EntityNamePlural string

	attributes []*Attribute
	byName     map[string]*Attribute
	indexes    []IndexDefinition
	identifier string

	patternsOnce sync.Once
	patterns     map[string]AccessPattern
	patternOrder []string
}

// NewSchema validates def and resolves all defaults.
func NewSchema(def Definition) (*Schema, error) {
	if def.Entity == "" {
		return nil, fmt.Errorf("%w: entity name is required", ErrConfiguration)
	}

	s := &Schema{
		Entity:           def.Entity,
		EntityNamePlural: def.EntityNamePlural,
		byName:           make(map[string]*Attribute, len(def.Attributes)),
	}
	if s.EntityNamePlural == "" {
		s.EntityNamePlural = def.Entity + "s"
	}

	for _, ad := range def.Attributes {
		attr, err := compileAttribute(ad)
		if err != nil {
			return nil, fmt.Errorf("%w: entity %s: %w", ErrConfiguration, def.Entity, err)
		}
		if _, dup := s.byName[attr.Name]; dup {
			return nil, fmt.Errorf("%w: entity %s: duplicate attribute %q", ErrConfiguration, def.Entity, attr.Name)
		}
		if attr.IsIdentifier {
			if s.identifier != "" {
				return nil, fmt.Errorf("%w: entity %s: attributes %q and %q are both identifiers", ErrConfiguration, def.Entity, s.identifier, attr.Name)
			}
			s.identifier = attr.Name
		}
		s.attributes = append(s.attributes, attr)
		s.byName[attr.Name] = attr
	}

	seen := make(map[string]bool, len(def.Indexes))
	for _, idx := range def.Indexes {
		if idx.Name == "" {
			return nil, fmt.Errorf("%w: entity %s: index name is required", ErrConfiguration, def.Entity)
		}
		if seen[idx.Name] {
			return nil, fmt.Errorf("%w: entity %s: duplicate index %q", ErrConfiguration, def.Entity, idx.Name)
		}
		seen[idx.Name] = true
		if len(idx.PartitionKey) == 0 {
			return nil, fmt.Errorf("%w: entity %s: index %q has no partition key", ErrConfiguration, def.Entity, idx.Name)
		}
		for _, name := range append(append([]string{}, idx.PartitionKey...), idx.SortKey...) {
			if _, ok := s.byName[name]; !ok {
				return nil, fmt.Errorf("%w: entity %s: index %q references unknown attribute %q", ErrConfiguration, def.Entity, idx.Name, name)
			}
		}
		s.indexes = append(s.indexes, idx)
	}

	if s.identifier == "" {
		switch {
		case len(s.indexes) > 0:
			s.identifier = s.indexes[0].PartitionKey[0]
		case s.byName["id"] != nil:
			s.identifier = "id"
		default:
			return nil, fmt.Errorf("%w: entity %s: no identifier attribute", ErrConfiguration, def.Entity)
		}
	}
	if len(s.indexes) == 0 {
		s.indexes = []IndexDefinition{{Name: PrimaryAccessPattern, PartitionKey: []string{s.identifier}}}
	}

	return s, nil
}

// MustSchema is like NewSchema but panics on error. It is meant for
// package-level schema declarations.
func MustSchema(def Definition) *Schema {
	s, err := NewSchema(def)
	if err != nil {
		panic(err)
	}
	return s
}

func compileAttribute(ad AttributeDefinition) (*Attribute, error) {
	if ad.Name == "" {
		return nil, fmt.Errorf("attribute name is required")
	}
	typ := ad.Type
	if typ == "" {
		typ = TypeString
	}
	if !typ.valid() {
		return nil, fmt.Errorf("attribute %q has unknown type %q", ad.Name, ad.Type)
	}

	attr := &Attribute{
		Name:         ad.Name,
		Label:        ad.Label,
		Type:         typ,
		IsIdentifier: ad.IsIdentifier,
		Required:     ad.Required,
		Hidden:       ad.Hidden,
		IsVisible:    flag(ad.IsVisible),
		IsEditable:   flag(ad.IsEditable),
		IsListable:   flag(ad.IsListable),
		IsCreatable:  flag(ad.IsCreatable),
		IsFilterable: flag(ad.IsFilterable),
		IsSearchable: flag(ad.IsSearchable),
	}

	if ad.Relation != nil {
		if ad.Relation.Entity == "" {
			return nil, fmt.Errorf("attribute %q declares a relation without an entity", ad.Name)
		}
		attr.Relation = &Relation{
			Entity:      ad.Relation.Entity,
			Identifiers: append([]IdentifierMapping(nil), ad.Relation.Identifiers...),
		}
	}

	for _, pd := range ad.Properties {
		prop, err := compileAttribute(pd)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", ad.Name, err)
		}
		attr.Properties = append(attr.Properties, prop)
	}
	if ad.Items != nil {
		items := *ad.Items
		if items.Name == "" {
			items.Name = ad.Name
		}
		compiled, err := compileAttribute(items)
		if err != nil {
			return nil, fmt.Errorf("attribute %q items: %w", ad.Name, err)
		}
		attr.Items = compiled
	}
	return attr, nil
}

func flag(b *bool) bool {
	return b == nil || *b
}

// Attributes returns the attributes in declaration order.
func (s *Schema) Attributes() []*Attribute {
	return append([]*Attribute(nil), s.attributes...)
}

// Attribute looks up an attribute by name.
func (s *Schema) Attribute(name string) (*Attribute, bool) {
	a, ok := s.byName[name]
	return a, ok
}

// Identifier returns the name of the primary identifier attribute.
func (s *Schema) Identifier() string {
	return s.identifier
}

// Indexes returns the index definitions in declaration order.
func (s *Schema) Indexes() []IndexDefinition {
	return append([]IndexDefinition(nil), s.indexes...)
}

// Relations returns the attributes that reference other entities.
func (s *Schema) Relations() []*Attribute {
	var out []*Attribute
	for _, a := range s.attributes {
		if a.Relation != nil {
			out = append(out, a)
		}
	}
	return out
}

type schemaFile struct {
	Entities   []Definition `yaml:"entities"`
	Definition `yaml:",inline"`
}

// ParseSchemas decodes a YAML document holding either a single entity
// definition or an `entities:` list, and compiles every entry.
func ParseSchemas(data []byte) ([]*Schema, error) {
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	defs := sf.Entities
	if len(defs) == 0 && sf.Entity != "" {
		defs = []Definition{sf.Definition}
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: schema document declares no entities", ErrConfiguration)
	}

	schemas := make([]*Schema, 0, len(defs))
	for _, def := range defs {
		s, err := NewSchema(def)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// LoadSchemas reads every YAML file matching the glob pattern.
func LoadSchemas(pattern string) ([]*Schema, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob pattern error: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no schema files found matching: %s", pattern)
	}

	var schemas []*Schema
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		parsed, err := ParseSchemas(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		schemas = append(schemas, parsed...)
	}
	return schemas, nil
}
