package fw24

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// PrimaryAccessPattern is the name of the access pattern that addresses a
// single record. It always exists in the resolved pattern map.
const PrimaryAccessPattern = "primary"

// KeyAttribute is one attribute of an access pattern's composite key.
type KeyAttribute struct {
	Name     string `yaml:"name" json:"name"`
	Required bool   `yaml:"required" json:"required"`
}

// AccessPattern is the derived view of an index: partition key attributes
// followed by sort key attributes.
type AccessPattern struct {
	Name string
	// IndexName is the storage-level index. Empty for the primary pattern,
	// which is served by the table key itself.
	IndexName      string
	Attributes     []KeyAttribute
	PartitionCount int
}

// PartitionKey returns the partition key attributes.
func (p AccessPattern) PartitionKey() []KeyAttribute {
	return p.Attributes[:p.PartitionCount]
}

// SortKey returns the sort key attributes.
func (p AccessPattern) SortKey() []KeyAttribute {
	return p.Attributes[p.PartitionCount:]
}

// Names returns the attribute names in key order.
func (p AccessPattern) Names() []string {
	names := make([]string, len(p.Attributes))
	for i, a := range p.Attributes {
		names[i] = a.Name
	}
	return names
}

// ResolveAccessPatterns derives one access pattern per declared index. If no
// index is literally named "primary", the first declared index is also
// exposed under that name. The result is computed once per schema; each call
// returns a fresh map.
func ResolveAccessPatterns(schema *Schema) map[string]AccessPattern {
	schema.resolvePatterns()
	out := make(map[string]AccessPattern, len(schema.patterns))
	for name, p := range schema.patterns {
		out[name] = p
	}
	return out
}

// AccessPattern returns the named access pattern.
func (s *Schema) AccessPattern(name string) (AccessPattern, bool) {
	s.resolvePatterns()
	p, ok := s.patterns[name]
	return p, ok
}

// AccessPatternNames returns pattern names in declaration order, with the
// primary alias first when it was promoted.
func (s *Schema) AccessPatternNames() []string {
	s.resolvePatterns()
	return append([]string(nil), s.patternOrder...)
}

func (s *Schema) resolvePatterns() {
	s.patternsOnce.Do(func() {
		s.patterns = make(map[string]AccessPattern, len(s.indexes)+1)

		hasPrimary := false
		for _, idx := range s.indexes {
			if idx.Name == PrimaryAccessPattern {
				hasPrimary = true
				break
			}
		}

		for i, idx := range s.indexes {
			attrs := make([]KeyAttribute, 0, len(idx.PartitionKey)+len(idx.SortKey))
			for _, name := range idx.PartitionKey {
				attrs = append(attrs, KeyAttribute{Name: name, Required: true})
			}
			for _, name := range idx.SortKey {
				attrs = append(attrs, KeyAttribute{Name: name, Required: true})
			}

			isPrimary := idx.Name == PrimaryAccessPattern || (!hasPrimary && i == 0)
			indexName := idx.IndexName
			if indexName == "" {
				indexName = idx.Name
			}
			if isPrimary {
				indexName = ""
			}

			p := AccessPattern{
				Name:           idx.Name,
				IndexName:      indexName,
				Attributes:     attrs,
				PartitionCount: len(idx.PartitionKey),
			}
			if !hasPrimary && i == 0 {
				alias := p
				alias.Name = PrimaryAccessPattern
				s.patterns[PrimaryAccessPattern] = alias
				s.patternOrder = append(s.patternOrder, PrimaryAccessPattern)
			}
			s.patterns[idx.Name] = p
			s.patternOrder = append(s.patternOrder, idx.Name)
		}
	})
}

// ExtractOptions tunes identifier extraction.
type ExtractOptions struct {
	// ForAccessPattern restricts extraction to one named pattern. When empty
	// the union of every pattern's attributes is used.
	ForAccessPattern string
	Logger           *zap.Logger
}

// ForAccessPattern restricts identifier extraction to the named pattern.
func ForAccessPattern(name string) func(*ExtractOptions) {
	return func(o *ExtractOptions) {
		o.ForAccessPattern = name
	}
}

// WithExtractLogger sets the logger used for missing-attribute warnings.
func WithExtractLogger(logger *zap.Logger) func(*ExtractOptions) {
	return func(o *ExtractOptions) {
		o.Logger = logger
	}
}

func newExtractOptions(opts []func(*ExtractOptions)) ExtractOptions {
	o := ExtractOptions{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ExtractIdentifiers copies the identifier attributes of input into a new
// map. If the schema's identifier attribute is absent but input carries a
// generic "id" field, that value is used instead. Missing required
// attributes are logged, not returned as errors.
func ExtractIdentifiers(schema *Schema, input Record, opts ...func(*ExtractOptions)) (Identifiers, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: identifier input is required", ErrInvalidArgument)
	}
	o := newExtractOptions(opts)
	keys, err := identifierKeys(schema, o.ForAccessPattern)
	if err != nil {
		return nil, err
	}
	return extractIdentifiers(schema, keys, input, o.Logger), nil
}

// ExtractIdentifiersBatch applies ExtractIdentifiers to each input, keeping
// the input order.
func ExtractIdentifiersBatch(schema *Schema, inputs []Record, opts ...func(*ExtractOptions)) ([]Identifiers, error) {
	if inputs == nil {
		return nil, fmt.Errorf("%w: identifier input is required", ErrInvalidArgument)
	}
	o := newExtractOptions(opts)
	keys, err := identifierKeys(schema, o.ForAccessPattern)
	if err != nil {
		return nil, err
	}
	out := make([]Identifiers, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("%w: identifier input at index %d is empty", ErrInvalidArgument, i)
		}
		out[i] = extractIdentifiers(schema, keys, in, o.Logger)
	}
	return out, nil
}

// ExtractEntityIdentifiers accepts a decoded JSON value: an object yields an
// Identifiers map, an array of objects yields []Identifiers in the same order.
func ExtractEntityIdentifiers(schema *Schema, input any, opts ...func(*ExtractOptions)) (any, error) {
	switch v := input.(type) {
	case map[string]any:
		return ExtractIdentifiers(schema, v, opts...)
	case []map[string]any:
		return ExtractIdentifiersBatch(schema, v, opts...)
	case []any:
		records := make([]Record, len(v))
		for i, elem := range v {
			m, ok := elem.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: identifier input at index %d is %T, not an object", ErrInvalidArgument, i, elem)
			}
			records[i] = m
		}
		return ExtractIdentifiersBatch(schema, records, opts...)
	case nil:
		return nil, fmt.Errorf("%w: identifier input is required", ErrInvalidArgument)
	default:
		return nil, fmt.Errorf("%w: identifier input is %T, not an object", ErrInvalidArgument, input)
	}
}

func identifierKeys(schema *Schema, pattern string) ([]KeyAttribute, error) {
	if pattern != "" {
		p, ok := schema.AccessPattern(pattern)
		if !ok {
			return nil, fmt.Errorf("%w: entity %s has no access pattern %q", ErrInvalidArgument, schema.Entity, pattern)
		}
		return p.Attributes, nil
	}

	var keys []KeyAttribute
	index := make(map[string]int)
	for _, name := range schema.AccessPatternNames() {
		p, _ := schema.AccessPattern(name)
		for _, attr := range p.Attributes {
			if i, ok := index[attr.Name]; ok {
				keys[i].Required = keys[i].Required || attr.Required
				continue
			}
			index[attr.Name] = len(keys)
			keys = append(keys, attr)
		}
	}
	return keys, nil
}

func extractIdentifiers(schema *Schema, keys []KeyAttribute, input Record, logger *zap.Logger) Identifiers {
	out := make(Identifiers, len(keys))
	for _, key := range keys {
		if v, ok := input[key.Name]; ok && v != nil {
			out[key.Name] = v
			continue
		}
		if key.Name == schema.Identifier() {
			if v, ok := input["id"]; ok && v != nil {
				out[key.Name] = v
				continue
			}
		}
		if key.Required {
			logger.Warn("required identifier attribute not found",
				zap.String("entity", schema.Entity),
				zap.String("attribute", key.Name),
			)
		}
	}
	return out
}

// Key is a composed storage key for one access pattern.
type Key struct {
	Partition string
	Sort      string
	// SortComplete reports whether every sort key attribute was present.
	// When false, Sort is a prefix usable for begins-with matching.
	SortComplete bool
}

// ComposeKey joins the values of the pattern's key attributes into storage
// key strings, each starting with prefix. All partition attributes must be
// present; sort attributes are taken in order until the first missing one.
func ComposeKey(pattern AccessPattern, ids Identifiers, prefix, delimiter string) (Key, error) {
	part := []string{prefix}
	for _, attr := range pattern.PartitionKey() {
		v, ok := ids[attr.Name]
		if !ok || v == nil {
			return Key{}, fmt.Errorf("%w: access pattern %q requires attribute %q", ErrInvalidArgument, pattern.Name, attr.Name)
		}
		part = append(part, keyString(v))
	}

	sort := []string{prefix}
	complete := true
	for _, attr := range pattern.SortKey() {
		v, ok := ids[attr.Name]
		if !ok || v == nil {
			complete = false
			break
		}
		sort = append(sort, keyString(v))
	}

	return Key{
		Partition:    strings.Join(part, delimiter),
		Sort:         strings.Join(sort, delimiter),
		SortComplete: complete,
	}, nil
}

// keyString renders one identifier value for use in a key. Numbers format
// the same whatever their Go type, so 1500000 and float64(1500000) match.
func keyString(v any) string {
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
