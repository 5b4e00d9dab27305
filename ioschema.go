package fw24

import (
	"strings"

	"github.com/stoewer/go-strcase"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// IOSchemaAttribute is the per-operation projection of an attribute.
type IOSchemaAttribute struct {
	ID           string              `yaml:"id" json:"id"`
	Name         string              `yaml:"name" json:"name"`
	Type         AttributeType       `yaml:"type" json:"type"`
	Required     bool                `yaml:"required,omitempty" json:"required,omitempty"`
	IsIdentifier bool                `yaml:"isIdentifier,omitempty" json:"isIdentifier,omitempty"`
	IsVisible    bool                `yaml:"isVisible" json:"isVisible"`
	IsEditable   bool                `yaml:"isEditable" json:"isEditable"`
	IsListable   bool                `yaml:"isListable" json:"isListable"`
	IsCreatable  bool                `yaml:"isCreatable" json:"isCreatable"`
	IsFilterable bool                `yaml:"isFilterable" json:"isFilterable"`
	IsSearchable bool                `yaml:"isSearchable" json:"isSearchable"`
	Relation     *Relation           `yaml:"relation,omitempty" json:"relation,omitempty"`
	Properties   []IOSchemaAttribute `yaml:"properties,omitempty" json:"properties,omitempty"`
	Items        *IOSchemaAttribute  `yaml:"items,omitempty" json:"items,omitempty"`
}

// AttributeSet is an ordered set of projected attributes.
type AttributeSet []IOSchemaAttribute

// Names returns the attribute ids in order.
func (s AttributeSet) Names() []string {
	names := make([]string, len(s))
	for i, a := range s {
		names[i] = a.ID
	}
	return names
}

// Lookup finds an attribute by id.
func (s AttributeSet) Lookup(id string) (IOSchemaAttribute, bool) {
	for _, a := range s {
		if a.ID == id {
			return a, true
		}
	}
	return IOSchemaAttribute{}, false
}

// Has reports whether id is in the set.
func (s AttributeSet) Has(id string) bool {
	_, ok := s.Lookup(id)
	return ok
}

// OpSchema describes the input and output shape of one operation.
type OpSchema struct {
	Identifiers []KeyAttribute `yaml:"identifiers,omitempty" json:"identifiers,omitempty"`
	Input       AttributeSet   `yaml:"input,omitempty" json:"input,omitempty"`
	Output      AttributeSet   `yaml:"output,omitempty" json:"output,omitempty"`
	ListOutput  AttributeSet   `yaml:"listOutput,omitempty" json:"listOutput,omitempty"`
}

// OpsSchema groups the operation schemas of an entity.
type OpsSchema struct {
	Get    OpSchema `yaml:"get" json:"get"`
	Delete OpSchema `yaml:"delete" json:"delete"`
	Create OpSchema `yaml:"create" json:"create"`
	Update OpSchema `yaml:"update" json:"update"`
	List   OpSchema `yaml:"list" json:"list"`
}

// BuildOpsSchema projects the schema attributes into per-operation sets.
// Hidden attributes never appear in any set.
func BuildOpsSchema(schema *Schema) OpsSchema {
	var detail, list, create, update AttributeSet
	for _, attr := range schema.attributes {
		if attr.Hidden {
			continue
		}
		formatted := formatAttribute(attr)
		if attr.IsVisible {
			detail = append(detail, formatted)
		}
		if attr.IsListable {
			list = append(list, formatted)
		}
		if attr.IsCreatable {
			create = append(create, formatted)
		}
		if attr.IsEditable {
			update = append(update, formatted)
		}
	}

	primary, _ := schema.AccessPattern(PrimaryAccessPattern)
	identifiers := append([]KeyAttribute(nil), primary.Attributes...)

	return OpsSchema{
		Get:    OpSchema{Identifiers: identifiers, Output: detail},
		Delete: OpSchema{Identifiers: identifiers, Output: detail},
		Create: OpSchema{Input: create, Output: detail, ListOutput: list},
		Update: OpSchema{Identifiers: identifiers, Input: update, Output: detail},
		List:   OpSchema{Output: list},
	}
}

func formatAttribute(attr *Attribute) IOSchemaAttribute {
	out := IOSchemaAttribute{
		ID:           attr.Name,
		Name:         attr.Label,
		Type:         attr.Type,
		Required:     attr.Required,
		IsIdentifier: attr.IsIdentifier,
		IsVisible:    attr.IsVisible,
		IsEditable:   attr.IsEditable,
		IsListable:   attr.IsListable,
		IsCreatable:  attr.IsCreatable,
		IsFilterable: attr.IsFilterable,
		IsSearchable: attr.IsSearchable,
		Relation:     attr.Relation,
	}
	if out.Name == "" {
		out.Name = humanize(attr.Name)
	}

	switch attr.Type {
	case TypeMap:
		for _, prop := range attr.Properties {
			if prop.Hidden {
				continue
			}
			out.Properties = append(out.Properties, formatAttribute(prop))
		}
	case TypeList, TypeSet:
		if attr.Items != nil && !attr.Items.Hidden {
			items := formatAttribute(attr.Items)
			out.Items = &items
		}
	}
	return out
}

// humanize turns an attribute name such as "customerId" into "Customer Id".
func humanize(name string) string {
	words := strings.ReplaceAll(strcase.SnakeCase(name), "_", " ")
	return cases.Title(language.English).String(words)
}
