package fw24

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Selections describes which attributes to return, keyed by attribute name.
// Nested selections reach into map attributes or, when the node carries
// relation metadata, into the related entity.
type Selections map[string]*Selection

// Selection is one node of a selection tree. A nil node or one without
// nested selections is a leaf.
type Selection struct {
	Nested   Selections
	Relation *RelationSelection
}

// RelationSelection is the relation metadata resolved onto a selection node
// by [InferRelationships]. Hydration requires it.
type RelationSelection struct {
	Entity      string
	Identifiers []IdentifierMapping
}

// IsLeaf reports whether the node selects the attribute as a whole.
func (s *Selection) IsLeaf() bool {
	return s == nil || len(s.Nested) == 0
}

// ParseAttributePaths builds a selection tree from dot-separated paths such
// as "author.name". Paths sharing a prefix are merged.
func ParseAttributePaths(paths []string) Selections {
	out := Selections{}
	for _, path := range paths {
		var segments []string
		for _, seg := range strings.Split(path, ".") {
			if seg = strings.TrimSpace(seg); seg != "" {
				segments = append(segments, seg)
			}
		}
		if len(segments) > 0 {
			out.insert(segments)
		}
	}
	return out
}

func (s Selections) insert(segments []string) {
	name := segments[0]
	node := s[name]
	if len(segments) == 1 {
		if node == nil {
			s[name] = &Selection{}
		}
		return
	}
	if node == nil {
		node = &Selection{}
		s[name] = node
	}
	if node.Nested == nil {
		node.Nested = Selections{}
	}
	node.Nested.insert(segments[1:])
}

// Clone returns a deep copy.
func (s Selections) Clone() Selections {
	if s == nil {
		return nil
	}
	out := make(Selections, len(s))
	for name, node := range s {
		out[name] = node.clone()
	}
	return out
}

func (s *Selection) clone() *Selection {
	if s == nil {
		return &Selection{}
	}
	out := &Selection{Nested: s.Nested.Clone()}
	if s.Relation != nil {
		rel := *s.Relation
		rel.Identifiers = append([]IdentifierMapping(nil), s.Relation.Identifiers...)
		out.Relation = &rel
	}
	return out
}

// Merge returns the union of s and other. Relation metadata already present
// on s wins.
func (s Selections) Merge(other Selections) Selections {
	out := s.Clone()
	if out == nil {
		out = Selections{}
	}
	for name, node := range other {
		existing, ok := out[name]
		if !ok {
			out[name] = node.clone()
			continue
		}
		if node != nil && len(node.Nested) > 0 {
			existing.Nested = existing.Nested.Merge(node.Nested)
		}
		if existing.Relation == nil && node != nil && node.Relation != nil {
			existing.Relation = node.clone().Relation
		}
	}
	return out
}

// Names returns the top-level attribute names, sorted.
func (s Selections) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Paths flattens the tree back into sorted dot-separated paths.
func (s Selections) Paths() []string {
	var out []string
	s.collect("", &out)
	sort.Strings(out)
	return out
}

func (s Selections) collect(prefix string, out *[]string) {
	for name, node := range s {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if node.IsLeaf() {
			*out = append(*out, path)
			continue
		}
		node.Nested.collect(path, out)
	}
}

// SchemaLookup resolves an entity name to its schema. [Registry] implements it.
type SchemaLookup interface {
	Schema(entity string) (*Schema, bool)
}

// InferOptions tunes relation inference.
type InferOptions struct {
	Schemas SchemaLookup
	Logger  *zap.Logger
}

// WithSchemas sets the lookup used to reach related entity schemas.
func WithSchemas(lookup SchemaLookup) func(*InferOptions) {
	return func(o *InferOptions) {
		o.Schemas = lookup
	}
}

// WithInferLogger sets the logger for not-found warnings.
func WithInferLogger(logger *zap.Logger) func(*InferOptions) {
	return func(o *InferOptions) {
		o.Logger = logger
	}
}

// InferRelationships returns a copy of sel in which every node naming a
// relation attribute of schema carries the resolved relation metadata.
// Nested selections under a relation are resolved against the related
// schema. Attributes the schema does not know stay plain leaves.
func InferRelationships(schema *Schema, sel Selections, opts ...func(*InferOptions)) Selections {
	o := InferOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return inferRelationships(schema, sel, o)
}

func inferRelationships(schema *Schema, sel Selections, o InferOptions) Selections {
	out := make(Selections, len(sel))
	for name, node := range sel {
		node = node.clone()
		out[name] = node

		attr, ok := schema.Attribute(name)
		if !ok {
			continue
		}

		if attr.Relation == nil {
			if !node.IsLeaf() && attr.Type != TypeMap && attr.Type != TypeList && attr.Type != TypeAny {
				o.Logger.Warn("relation metadata not found for nested selection",
					zap.String("entity", schema.Entity),
					zap.String("attribute", name),
				)
			}
			continue
		}

		var target *Schema
		if o.Schemas != nil {
			target, _ = o.Schemas.Schema(attr.Relation.Entity)
		}
		if target == nil {
			o.Logger.Warn("related entity schema not found",
				zap.String("entity", schema.Entity),
				zap.String("attribute", name),
				zap.String("related", attr.Relation.Entity),
			)
		}

		if node.Relation == nil {
			node.Relation = &RelationSelection{
				Entity:      attr.Relation.Entity,
				Identifiers: relationIdentifiers(schema, attr.Relation, target),
			}
		}
		if target != nil && len(node.Nested) > 0 {
			node.Nested = inferRelationships(target, node.Nested, o)
		}
	}
	return out
}

func relationIdentifiers(schema *Schema, rel *Relation, target *Schema) []IdentifierMapping {
	if len(rel.Identifiers) > 0 {
		return append([]IdentifierMapping(nil), rel.Identifiers...)
	}
	targetID := "id"
	if target != nil {
		targetID = target.Identifier()
	}
	return []IdentifierMapping{{Source: schema.Identifier(), Target: targetID}}
}
