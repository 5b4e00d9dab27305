// Package assert provides fluent assertions over entity records and the
// DynamoDB items they are stored as.
//
// # Usage
//
//	import "github.com/johnny-rice/fw24/entitymock/assert"
//
//	assert.Records(t, out.Records).
//		HasCount(2).
//		ContainsRecord("id", "o1").
//		AllHaveAttributes("id", "total")
//
//	assert.Record(t, out.Record).
//		HasValue("customer.name", "Ada").
//		LacksAttribute("secret")
//
//	assert.DynamoDBItem(t, input.Item).
//		HasKey("hk", "order#o1").
//		HasDataField("status", "open")
package assert

import (
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/johnny-rice/fw24"
)

// RecordsAssertion provides fluent assertions for a list of records.
type RecordsAssertion struct {
	t       *testing.T
	records []fw24.Record
}

func Records(t *testing.T, records []fw24.Record) *RecordsAssertion {
	return &RecordsAssertion{t: t, records: records}
}

// HasCount asserts the number of records.
func (a *RecordsAssertion) HasCount(expected int) *RecordsAssertion {
	a.t.Helper()
	if len(a.records) != expected {
		a.t.Errorf("expected %d records, got %d", expected, len(a.records))
	}
	return a
}

func (a *RecordsAssertion) IsEmpty() *RecordsAssertion {
	a.t.Helper()
	return a.HasCount(0)
}

// ContainsRecord asserts that some record has attribute equal to value.
// Values are compared by their printed form so 1 and 1.0 match.
func (a *RecordsAssertion) ContainsRecord(attribute string, value any) *RecordsAssertion {
	a.t.Helper()
	for _, rec := range a.records {
		if v, ok := lookup(rec, attribute); ok && same(v, value) {
			return a
		}
	}
	a.t.Errorf("expected a record with %s=%v", attribute, value)
	return a
}

// AllHaveAttributes asserts every record carries each attribute.
func (a *RecordsAssertion) AllHaveAttributes(attributes ...string) *RecordsAssertion {
	a.t.Helper()
	for i, rec := range a.records {
		for _, attr := range attributes {
			if _, ok := lookup(rec, attr); !ok {
				a.t.Errorf("record %d: expected attribute %s", i, attr)
			}
		}
	}
	return a
}

// NoneHaveAttribute asserts no record carries attribute.
func (a *RecordsAssertion) NoneHaveAttribute(attribute string) *RecordsAssertion {
	a.t.Helper()
	for i, rec := range a.records {
		if _, ok := lookup(rec, attribute); ok {
			a.t.Errorf("record %d: unexpected attribute %s", i, attribute)
		}
	}
	return a
}

// InOrder asserts the records' attribute values appear in the given order.
func (a *RecordsAssertion) InOrder(attribute string, values ...any) *RecordsAssertion {
	a.t.Helper()
	if len(a.records) != len(values) {
		a.t.Errorf("expected %d records, got %d", len(values), len(a.records))
		return a
	}
	for i, rec := range a.records {
		v, _ := lookup(rec, attribute)
		if !same(v, values[i]) {
			a.t.Errorf("record %d: expected %s=%v, got %v", i, attribute, values[i], v)
		}
	}
	return a
}

// RecordAssertion provides fluent assertions for a single record.
type RecordAssertion struct {
	t      *testing.T
	record fw24.Record
}

func Record(t *testing.T, record fw24.Record) *RecordAssertion {
	return &RecordAssertion{t: t, record: record}
}

// HasValue asserts the value at a dot path.
func (a *RecordAssertion) HasValue(path string, expected any) *RecordAssertion {
	a.t.Helper()
	v, ok := lookup(a.record, path)
	if !ok {
		a.t.Errorf("expected attribute %s", path)
		return a
	}
	if !same(v, expected) {
		a.t.Errorf("expected %s=%v, got %v", path, expected, v)
	}
	return a
}

func (a *RecordAssertion) HasAttribute(path string) *RecordAssertion {
	a.t.Helper()
	if _, ok := lookup(a.record, path); !ok {
		a.t.Errorf("expected attribute %s", path)
	}
	return a
}

func (a *RecordAssertion) LacksAttribute(path string) *RecordAssertion {
	a.t.Helper()
	if _, ok := lookup(a.record, path); ok {
		a.t.Errorf("unexpected attribute %s", path)
	}
	return a
}

// HasExactly asserts the record's top-level attribute names.
func (a *RecordAssertion) HasExactly(names ...string) *RecordAssertion {
	a.t.Helper()
	if len(a.record) != len(names) {
		a.t.Errorf("expected %d attributes %v, got %d", len(names), names, len(a.record))
	}
	for _, name := range names {
		if _, ok := a.record[name]; !ok {
			a.t.Errorf("expected attribute %s", name)
		}
	}
	return a
}

// DynamoDBItemAssertion provides fluent assertions for a stored item.
type DynamoDBItemAssertion struct {
	t    *testing.T
	item map[string]types.AttributeValue
}

func DynamoDBItem(t *testing.T, item map[string]types.AttributeValue) *DynamoDBItemAssertion {
	return &DynamoDBItemAssertion{t: t, item: item}
}

// HasKey asserts a string key attribute such as hk, sk or label.
func (a *DynamoDBItemAssertion) HasKey(keyName, expectedValue string) *DynamoDBItemAssertion {
	a.t.Helper()
	attr, ok := a.item[keyName].(*types.AttributeValueMemberS)
	if !ok {
		a.t.Errorf("expected string attribute %s", keyName)
		return a
	}
	if attr.Value != expectedValue {
		a.t.Errorf("expected %s=%s, got %s", keyName, expectedValue, attr.Value)
	}
	return a
}

// HasDataField asserts a field of the data map.
func (a *DynamoDBItemAssertion) HasDataField(fieldName string, expectedValue any) *DynamoDBItemAssertion {
	a.t.Helper()
	rec, err := fw24.UnmarshalRecord(a.item)
	if err != nil {
		a.t.Errorf("failed to unmarshal item: %v", err)
		return a
	}
	v, ok := rec[fieldName]
	if !ok {
		a.t.Errorf("expected data field %s", fieldName)
		return a
	}
	if !same(v, expectedValue) {
		a.t.Errorf("expected data.%s=%v, got %v", fieldName, expectedValue, v)
	}
	return a
}

// IsEntity asserts the item is labelled with entity.
func (a *DynamoDBItemAssertion) IsEntity(entity string) *DynamoDBItemAssertion {
	a.t.Helper()
	return a.HasKey(fw24.AttributeNameLabel, entity)
}

func lookup(rec fw24.Record, path string) (any, bool) {
	var cur any = rec
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func same(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
