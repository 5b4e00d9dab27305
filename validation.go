package fw24

import (
	"errors"
	"fmt"
)

// Operation names a write operation for validation purposes.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// Rule constrains one attribute.
type Rule struct {
	Attribute string
	Type      AttributeType
	// Required applies on create only; updates are partial.
	Required bool
}

// ValidationRules is the rule set derived from a schema.
type ValidationRules struct {
	Entity string
	Rules  []Rule
}

// ValidationRules derives rules from the attribute types and required flags.
func (s *Schema) ValidationRules() ValidationRules {
	rules := ValidationRules{Entity: s.Entity}
	for _, attr := range s.attributes {
		rules.Rules = append(rules.Rules, Rule{
			Attribute: attr.Name,
			Type:      attr.Type,
			Required:  attr.Required,
		})
	}
	return rules
}

// Validate checks rec for the given operation. Every violation is reported;
// the joined error wraps ErrValidation.
func (v ValidationRules) Validate(op Operation, rec Record) error {
	var errs []error
	for _, rule := range v.Rules {
		val, ok := rec[rule.Attribute]
		if !ok || val == nil {
			if rule.Required && op == OperationCreate {
				errs = append(errs, fmt.Errorf("%s.%s is required", v.Entity, rule.Attribute))
			}
			continue
		}
		if !typeMatches(rule.Type, val) {
			errs = append(errs, fmt.Errorf("%s.%s must be of type %s, got %T", v.Entity, rule.Attribute, rule.Type, val))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
}

func typeMatches(t AttributeType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeMap:
		_, ok := asMap(v)
		return ok
	case TypeList, TypeSet:
		return isSlice(v)
	}
	return true
}
