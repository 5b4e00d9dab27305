package fw24

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Clock is a function type that returns the current time for dependency injection.
type Clock func() time.Time

// DefaultClock returns the current UTC time.
func DefaultClock() time.Time {
	return time.Now().UTC()
}

// Item is an alias for the dynamodb attribute value map.
type Item = map[string]types.AttributeValue

const (
	AttributeNameHashKey     = "hk"
	AttributeNameSortKey     = "sk"
	AttributeNameLabel       = "label"
	AttributeNameCreated     = "created_at"
	AttributeNameUpdated     = "updated_at"
	AttributeNameExpires     = "expires"
	AttributeNameData        = "data"
	AttributeNameListSortKey = "gsi1_sk"
)

// entityItem is the stored form of a record. Every entity shares one table:
//
//	| hk          | sk          | label    | gsi1_sk     | data           |
//	| =========== | =========== | ======== | =========== | ============== |
//	| order#O1    | order       | order    | order#O1    | {id: O1, ...}  |
//	| page#<cur>  | page#<cur>  | page     |             | {key: <bytes>} |
//
// hk and sk come from the primary access pattern. Secondary access patterns
// add <pattern>_hk and <pattern>_sk attributes for their index.
type entityItem struct {
	HashKey     string         `dynamodbav:"hk"`
	SortKey     string         `dynamodbav:"sk"`
	Label       string         `dynamodbav:"label"`
	ListSortKey string         `dynamodbav:"gsi1_sk,omitempty"`
	CreatedAt   time.Time      `dynamodbav:"created_at"`
	UpdatedAt   time.Time      `dynamodbav:"updated_at"`
	Expires     *time.Time     `dynamodbav:"expires,omitempty,unixtime"`
	Data        map[string]any `dynamodbav:"data"`
}

// PatternHashKey is the item attribute holding the partition key of a
// secondary access pattern.
func PatternHashKey(pattern string) string { return pattern + "_hk" }

// PatternSortKey is the item attribute holding the sort key of a secondary
// access pattern.
func PatternSortKey(pattern string) string { return pattern + "_sk" }

// DataAttribute names an attribute inside the stored record, for use in
// condition and projection expressions. Dots address nested map attributes.
func DataAttribute(name string) expression.NameBuilder {
	return expression.Name(AttributeNameData + "." + name)
}

// UnmarshalRecord extracts the record stored in the data attribute of item.
func UnmarshalRecord(item Item) (Record, error) {
	data, ok := item[AttributeNameData]
	if !ok {
		return nil, fmt.Errorf("data attribute not found")
	}
	var rec Record
	if err := attributevalue.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}

// UnmarshalRecords calls [UnmarshalRecord] on each item in items.
func UnmarshalRecords(items []Item) ([]Record, error) {
	records := make([]Record, 0, len(items))
	for i, item := range items {
		rec, err := UnmarshalRecord(item)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal item %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// UnmarshalTableKey extracts and unmarshals the hash and sort keys from a DynamoDB item.
// Returns an error if either key is missing from the item.
func UnmarshalTableKey(item Item) (hk, sk string, err error) {
	var (
		hkav, hkexists = item[AttributeNameHashKey]
		skav, skexists = item[AttributeNameSortKey]
	)

	if !hkexists || !skexists {
		return "", "", fmt.Errorf("hash and sort keys not found")
	}

	err = errors.Join(
		attributevalue.Unmarshal(hkav, &hk),
		attributevalue.Unmarshal(skav, &sk),
	)

	return hk, sk, err
}

// DynamoDBClient interface for easier testing and connection management.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}
