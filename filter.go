package fw24

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"golang.org/x/exp/constraints"
)

// FilterOperator is a comparison applied to a single attribute.
type FilterOperator string

const (
	OpEqual       FilterOperator = "eq"
	OpNotEqual    FilterOperator = "neq"
	OpGreater     FilterOperator = "gt"
	OpGreaterEq   FilterOperator = "gte"
	OpLess        FilterOperator = "lt"
	OpLessEq      FilterOperator = "lte"
	OpContains    FilterOperator = "contains"
	OpNotContains FilterOperator = "notContains"
	OpBeginsWith  FilterOperator = "beginsWith"
	OpExists      FilterOperator = "exists"
	OpNotExists   FilterOperator = "notExists"
	OpIn          FilterOperator = "in"
)

// Logic joins the members of a FilterGroup.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Filter compares one attribute with a value. Attribute may be a dot path
// into a map attribute.
type Filter struct {
	Attribute string         `json:"attribute" yaml:"attribute"`
	Operator  FilterOperator `json:"operator" yaml:"operator"`
	Value     any            `json:"value,omitempty" yaml:"value,omitempty"`
}

// FilterGroup is a boolean combination of filters and nested groups. The
// zero Logic means and.
type FilterGroup struct {
	Logic   Logic         `json:"logic,omitempty" yaml:"logic,omitempty"`
	Filters []Filter      `json:"filters,omitempty" yaml:"filters,omitempty"`
	Groups  []FilterGroup `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// IsEmpty reports whether the group constrains nothing.
func (g FilterGroup) IsEmpty() bool {
	if len(g.Filters) > 0 {
		return false
	}
	for _, sub := range g.Groups {
		if !sub.IsEmpty() {
			return false
		}
	}
	return true
}

var searchSeparators = regexp.MustCompile(`[& ,+]+`)

// SplitSearchTerms splits free-text search input on runs of '&', ' ', ','
// and '+', dropping empty terms.
func SplitSearchTerms(inputs ...string) []string {
	var terms []string
	for _, in := range inputs {
		for _, term := range searchSeparators.Split(in, -1) {
			if term != "" {
				terms = append(terms, term)
			}
		}
	}
	return terms
}

// ParseSearchAttributes splits comma-separated attribute lists, trimming
// whitespace and dropping duplicates.
func ParseSearchAttributes(inputs ...string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, in := range inputs {
		for _, attr := range strings.Split(in, ",") {
			attr = strings.TrimSpace(attr)
			if attr == "" || seen[attr] {
				continue
			}
			seen[attr] = true
			out = append(out, attr)
		}
	}
	return out
}

// BuildSearchFilterGroup matches records where every term is contained in
// at least one of the attributes.
func BuildSearchFilterGroup(terms, attributes []string) FilterGroup {
	group := FilterGroup{Logic: LogicAnd}
	if len(terms) == 0 || len(attributes) == 0 {
		return group
	}
	for _, term := range terms {
		either := FilterGroup{Logic: LogicOr}
		for _, attr := range attributes {
			either.Filters = append(either.Filters, Filter{Attribute: attr, Operator: OpContains, Value: term})
		}
		group.Groups = append(group.Groups, either)
	}
	return group
}

// MergeFilterGroups ANDs the non-empty groups together.
func MergeFilterGroups(groups ...FilterGroup) FilterGroup {
	var parts []FilterGroup
	for _, g := range groups {
		if !g.IsEmpty() {
			parts = append(parts, g)
		}
	}
	switch len(parts) {
	case 0:
		return FilterGroup{}
	case 1:
		return parts[0]
	}
	return FilterGroup{Logic: LogicAnd, Groups: parts}
}

// Match evaluates the group against a record in memory.
func (g FilterGroup) Match(rec Record) bool {
	or := g.Logic == LogicOr
	matched := false
	for _, f := range g.Filters {
		ok := f.Match(rec)
		if or && ok {
			return true
		}
		if !or && !ok {
			return false
		}
		matched = true
	}
	for _, sub := range g.Groups {
		if sub.IsEmpty() {
			continue
		}
		ok := sub.Match(rec)
		if or && ok {
			return true
		}
		if !or && !ok {
			return false
		}
		matched = true
	}
	// an or group with members and no hit fails; an empty group passes
	return !or || !matched
}

// Match evaluates the filter against a record in memory.
func (f Filter) Match(rec Record) bool {
	field, present := lookupPath(rec, f.Attribute)
	present = present && field != nil

	switch f.Operator {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	case OpNotEqual:
		return !present || !valuesEqual(field, f.Value)
	case OpNotContains:
		return !present || !containsValue(field, f.Value)
	}

	if !present {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return valuesEqual(field, f.Value)
	case OpGreater:
		c, ok := compareValues(field, f.Value)
		return ok && c > 0
	case OpGreaterEq:
		c, ok := compareValues(field, f.Value)
		return ok && c >= 0
	case OpLess:
		c, ok := compareValues(field, f.Value)
		return ok && c < 0
	case OpLessEq:
		c, ok := compareValues(field, f.Value)
		return ok && c <= 0
	case OpContains:
		return containsValue(field, f.Value)
	case OpBeginsWith:
		s, ok := field.(string)
		return ok && strings.HasPrefix(s, fmt.Sprint(f.Value))
	case OpIn:
		for _, candidate := range toSlice(f.Value) {
			if valuesEqual(field, candidate) {
				return true
			}
		}
	}
	return false
}

// Condition renders the group as a DynamoDB condition. Attribute names are
// prefixed with prefix, e.g. "data." for records stored under a map
// attribute. An empty group yields an unset builder.
func (g FilterGroup) Condition(prefix string) (expression.ConditionBuilder, error) {
	var conds []expression.ConditionBuilder
	for _, f := range g.Filters {
		c, err := f.Condition(prefix)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		conds = append(conds, c)
	}
	for _, sub := range g.Groups {
		if sub.IsEmpty() {
			continue
		}
		c, err := sub.Condition(prefix)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		conds = append(conds, c)
	}

	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, nil
	case 1:
		return conds[0], nil
	}
	if g.Logic == LogicOr {
		return expression.Or(conds[0], conds[1], conds[2:]...), nil
	}
	return expression.And(conds[0], conds[1], conds[2:]...), nil
}

// Condition renders the filter as a DynamoDB condition.
func (f Filter) Condition(prefix string) (expression.ConditionBuilder, error) {
	if f.Attribute == "" {
		return expression.ConditionBuilder{}, fmt.Errorf("%w: filter attribute is required", ErrInvalidArgument)
	}
	name := expression.Name(prefix + f.Attribute)
	value := expression.Value(f.Value)

	switch f.Operator {
	case OpEqual:
		return name.Equal(value), nil
	case OpNotEqual:
		return name.NotEqual(value), nil
	case OpGreater:
		return name.GreaterThan(value), nil
	case OpGreaterEq:
		return name.GreaterThanEqual(value), nil
	case OpLess:
		return name.LessThan(value), nil
	case OpLessEq:
		return name.LessThanEqual(value), nil
	case OpContains:
		return expression.Contains(name, fmt.Sprint(f.Value)), nil
	case OpNotContains:
		return expression.Not(expression.Contains(name, fmt.Sprint(f.Value))), nil
	case OpBeginsWith:
		return expression.BeginsWith(name, fmt.Sprint(f.Value)), nil
	case OpExists:
		return expression.AttributeExists(name), nil
	case OpNotExists:
		return expression.AttributeNotExists(name), nil
	case OpIn:
		values := toSlice(f.Value)
		if len(values) == 0 {
			return expression.ConditionBuilder{}, fmt.Errorf("%w: filter %q: in requires at least one value", ErrInvalidArgument, f.Attribute)
		}
		operands := make([]expression.OperandBuilder, 0, len(values)-1)
		for _, v := range values[1:] {
			operands = append(operands, expression.Value(v))
		}
		return expression.In(name, expression.Value(values[0]), operands...), nil
	}
	return expression.ConditionBuilder{}, fmt.Errorf("%w: unknown filter operator %q", ErrInvalidArgument, f.Operator)
}

// lookupPath resolves a dot path through nested maps.
func lookupPath(rec map[string]any, path string) (any, bool) {
	if rec == nil {
		return nil, false
	}
	var cur any = rec
	for _, seg := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// toSlice returns the elements of a slice or array value; any other value is
// wrapped as a single element. Byte slices are treated as scalars.
func toSlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func isSlice(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8
}

func containsValue(field, value any) bool {
	if s, ok := field.(string); ok {
		return strings.Contains(s, fmt.Sprint(value))
	}
	if isSlice(field) {
		for _, elem := range toSlice(field) {
			if valuesEqual(elem, value) {
				return true
			}
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if sa, ok := a.(string); ok {
		return sa == fmt.Sprint(b)
	}
	return reflect.DeepEqual(a, b)
}

func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return compareOrdered(fa, fb), true
		}
		return 0, false
	}
	if sa, ok := a.(string); ok {
		return compareOrdered(sa, fmt.Sprint(b)), true
	}
	return 0, false
}

func compareOrdered[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
