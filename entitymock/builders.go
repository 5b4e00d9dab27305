package entitymock

import (
	"github.com/johnny-rice/fw24"
)

// DefinitionOption is a functional option for building entity definitions.
type DefinitionOption func(*fw24.Definition)

// AttributeOption is a functional option for a single attribute.
type AttributeOption func(*fw24.AttributeDefinition)

// NewDefinition creates an entity definition with the given options applied.
func NewDefinition(entity string, opts ...DefinitionOption) fw24.Definition {
	def := fw24.Definition{Entity: entity}
	for _, opt := range opts {
		opt(&def)
	}
	return def
}

// NewSchema compiles a definition built from opts and panics on error.
func NewSchema(entity string, opts ...DefinitionOption) *fw24.Schema {
	return fw24.MustSchema(NewDefinition(entity, opts...))
}

// WithPlural sets the plural entity name.
func WithPlural(plural string) DefinitionOption {
	return func(d *fw24.Definition) {
		d.EntityNamePlural = plural
	}
}

// WithAttribute adds an attribute of the given type.
func WithAttribute(name string, typ fw24.AttributeType, opts ...AttributeOption) DefinitionOption {
	return func(d *fw24.Definition) {
		d.Attributes = append(d.Attributes, NewAttribute(name, typ, opts...))
	}
}

// WithIndex adds a composite index over the given key attributes.
func WithIndex(name string, partitionKey []string, sortKey ...string) DefinitionOption {
	return func(d *fw24.Definition) {
		d.Indexes = append(d.Indexes, fw24.IndexDefinition{
			Name:         name,
			PartitionKey: partitionKey,
			SortKey:      sortKey,
		})
	}
}

func NewAttribute(name string, typ fw24.AttributeType, opts ...AttributeOption) fw24.AttributeDefinition {
	attr := fw24.AttributeDefinition{Name: name, Type: typ}
	for _, opt := range opts {
		opt(&attr)
	}
	return attr
}

// Identifier marks the attribute as the entity identifier.
func Identifier() AttributeOption {
	return func(a *fw24.AttributeDefinition) {
		a.IsIdentifier = true
	}
}

func Required() AttributeOption {
	return func(a *fw24.AttributeDefinition) {
		a.Required = true
	}
}

func Hidden() AttributeOption {
	return func(a *fw24.AttributeDefinition) {
		a.Hidden = true
	}
}

func Visible(v bool) AttributeOption {
	return func(a *fw24.AttributeDefinition) { a.IsVisible = &v }
}

func Editable(v bool) AttributeOption {
	return func(a *fw24.AttributeDefinition) { a.IsEditable = &v }
}

func Listable(v bool) AttributeOption {
	return func(a *fw24.AttributeDefinition) { a.IsListable = &v }
}

func Creatable(v bool) AttributeOption {
	return func(a *fw24.AttributeDefinition) { a.IsCreatable = &v }
}

func Filterable(v bool) AttributeOption {
	return func(a *fw24.AttributeDefinition) { a.IsFilterable = &v }
}

func Searchable(v bool) AttributeOption {
	return func(a *fw24.AttributeDefinition) { a.IsSearchable = &v }
}

// RelatesTo declares a relation to entity. Mappings alternate source and
// target attribute names; none means identifier to identifier.
func RelatesTo(entity string, mappings ...string) AttributeOption {
	return func(a *fw24.AttributeDefinition) {
		rel := &fw24.RelationDefinition{Entity: entity}
		for i := 0; i+1 < len(mappings); i += 2 {
			rel.Identifiers = append(rel.Identifiers, fw24.IdentifierMapping{Source: mappings[i], Target: mappings[i+1]})
		}
		a.Relation = rel
	}
}

// WithProperties sets the nested attributes of a map attribute.
func WithProperties(props ...fw24.AttributeDefinition) AttributeOption {
	return func(a *fw24.AttributeDefinition) {
		a.Properties = append(a.Properties, props...)
	}
}

// WithItems sets the element attribute of a list attribute.
func WithItems(item fw24.AttributeDefinition) AttributeOption {
	return func(a *fw24.AttributeDefinition) {
		a.Items = &item
	}
}
