package fw24

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Mock DynamoDB client for testing
type mockDynamoDBClient struct {
	items       map[string]map[string]types.AttributeValue
	queryOutput *dynamodb.QueryOutput
	queries     []*dynamodb.QueryInput
	batchGets   int
}

func newMockDynamoDBClient() *mockDynamoDBClient {
	return &mockDynamoDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func itemKey(item map[string]types.AttributeValue) string {
	hk := item["hk"].(*types.AttributeValueMemberS).Value
	sk := item["sk"].(*types.AttributeValueMemberS).Value
	return hk + "#" + sk
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := itemKey(params.Item)
	if _, exists := m.items[key]; exists && params.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("exists")}
	}
	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	for _, requests := range params.RequestItems {
		for _, request := range requests {
			if request.PutRequest != nil {
				m.items[itemKey(request.PutRequest.Item)] = request.PutRequest.Item
			}
			if request.DeleteRequest != nil {
				delete(m.items, itemKey(request.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (m *mockDynamoDBClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	m.batchGets++
	out := &dynamodb.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for table, req := range params.RequestItems {
		for _, key := range req.Keys {
			if item, exists := m.items[itemKey(key)]; exists {
				out.Responses[table] = append(out.Responses[table], item)
			}
		}
	}
	return out, nil
}

func (m *mockDynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.queries = append(m.queries, params)
	if m.queryOutput != nil {
		return m.queryOutput, nil
	}
	return &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{},
	}, nil
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if item, exists := m.items[itemKey(params.Key)]; exists {
		return &dynamodb.GetItemOutput{Item: item}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	key := itemKey(params.Key)
	old := m.items[key]
	delete(m.items, key)
	return &dynamodb.DeleteItemOutput{Attributes: old}, nil
}

// UpdateItem does not evaluate the update expression; it echoes the stored item.
func (m *mockDynamoDBClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	item, exists := m.items[itemKey(params.Key)]
	if !exists && params.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("missing")}
	}
	return &dynamodb.UpdateItemOutput{Attributes: item}, nil
}

func strPtr(s string) *string { return &s }

func stringAttr(t *testing.T, item Item, name string) string {
	t.Helper()
	av, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		t.Fatalf("Expected string attribute %s, got %T", name, item[name])
	}
	return av.Value
}

// Tests for table operations

func TestNewTable(t *testing.T) {
	table := NewTable("test-table")

	if table.TableName != "test-table" {
		t.Errorf("Expected table name 'test-table', got %s", table.TableName)
	}
	if table.ListIndexName != "list-index" {
		t.Errorf("Expected list index 'list-index', got %s", table.ListIndexName)
	}
	if table.KeyDelimiter != "#" {
		t.Errorf("Expected key delimiter '#', got %s", table.KeyDelimiter)
	}
	if table.PaginationTTL != 24*time.Hour {
		t.Errorf("Expected pagination TTL 24h, got %v", table.PaginationTTL)
	}
	if table.Tick == nil {
		t.Error("Expected clock to be set")
	}
}

func TestTableKey(t *testing.T) {
	table := NewTable("test-table")

	t.Run("partition only", func(t *testing.T) {
		key, err := table.Key(orderSchema(), Identifiers{"id": "O1"})
		if err != nil {
			t.Fatalf("Failed to compose key: %v", err)
		}
		if hk := stringAttr(t, key, "hk"); hk != "order#O1" {
			t.Errorf("Expected hk 'order#O1', got %s", hk)
		}
		if sk := stringAttr(t, key, "sk"); sk != "order" {
			t.Errorf("Expected sk 'order', got %s", sk)
		}
	})

	t.Run("composite primary key", func(t *testing.T) {
		schema := MustSchema(Definition{
			Entity: "line",
			Attributes: []AttributeDefinition{
				{Name: "orderId"}, {Name: "lineNo", Type: TypeNumber},
			},
			Indexes: []IndexDefinition{{Name: "primary", PartitionKey: []string{"orderId"}, SortKey: []string{"lineNo"}}},
		})

		key, err := table.Key(schema, Identifiers{"orderId": "O1", "lineNo": 2})
		if err != nil {
			t.Fatalf("Failed to compose key: %v", err)
		}
		if sk := stringAttr(t, key, "sk"); sk != "line#2" {
			t.Errorf("Expected sk 'line#2', got %s", sk)
		}

		if _, err := table.Key(schema, Identifiers{"orderId": "O1"}); err == nil {
			t.Error("Expected error for incomplete primary sort key")
		}
	})

	t.Run("missing partition attribute", func(t *testing.T) {
		if _, err := table.Key(orderSchema(), Identifiers{}); err == nil {
			t.Error("Expected error for missing partition attribute")
		}
	})
}

func TestTableMarshalPut(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	table := NewTable("test-table")
	table.Tick = func() time.Time { return created }

	t.Run("basic put", func(t *testing.T) {
		putInput, err := table.MarshalPut(orderSchema(), Record{"id": "O1", "customerId": "C1", "status": "open"})
		if err != nil {
			t.Fatalf("Failed to marshal put: %v", err)
		}

		if *putInput.TableName != "test-table" {
			t.Errorf("Expected table name 'test-table', got %s", *putInput.TableName)
		}
		if stringAttr(t, putInput.Item, "label") != "order" {
			t.Error("Expected label 'order'")
		}
		if stringAttr(t, putInput.Item, "gsi1_sk") != "order#O1" {
			t.Error("Expected gsi1_sk to mirror hk")
		}
		if putInput.ConditionExpression == nil {
			t.Error("Expected condition expression to be set")
		}
		if stringAttr(t, putInput.Item, "created_at") != created.Format(time.RFC3339Nano) {
			t.Errorf("Expected created_at from the table clock, got %s", stringAttr(t, putInput.Item, "created_at"))
		}
	})

	t.Run("secondary pattern keys", func(t *testing.T) {
		putInput, err := table.MarshalPut(orderSchema(), Record{"id": "O1", "customerId": "C1", "status": "open"})
		if err != nil {
			t.Fatalf("Failed to marshal put: %v", err)
		}
		if hk := stringAttr(t, putInput.Item, "byCustomer_hk"); hk != "order#C1" {
			t.Errorf("Expected byCustomer_hk 'order#C1', got %s", hk)
		}
		if sk := stringAttr(t, putInput.Item, "byCustomer_sk"); sk != "order#open#O1" {
			t.Errorf("Expected byCustomer_sk 'order#open#O1', got %s", sk)
		}
	})

	t.Run("pattern keys skipped without partition value", func(t *testing.T) {
		putInput, err := table.MarshalPut(orderSchema(), Record{"id": "O2"})
		if err != nil {
			t.Fatalf("Failed to marshal put: %v", err)
		}
		if _, ok := putInput.Item["byCustomer_hk"]; ok {
			t.Error("Expected no byCustomer_hk without customerId")
		}
	})
}

func TestTableMarshalGet(t *testing.T) {
	table := NewTable("test-table")

	t.Run("without projection", func(t *testing.T) {
		getInput, err := table.MarshalGet(orderSchema(), Identifiers{"id": "O1"}, nil)
		if err != nil {
			t.Fatalf("Failed to marshal get: %v", err)
		}
		if getInput.ProjectionExpression != nil {
			t.Error("Expected no projection expression")
		}
	})

	t.Run("with projection", func(t *testing.T) {
		getInput, err := table.MarshalGet(orderSchema(), Identifiers{"id": "O1"}, []string{"id", "total"})
		if err != nil {
			t.Fatalf("Failed to marshal get: %v", err)
		}
		if getInput.ProjectionExpression == nil {
			t.Fatal("Expected projection expression")
		}
		names := map[string]bool{}
		for _, v := range getInput.ExpressionAttributeNames {
			names[v] = true
		}
		for _, want := range []string{"hk", "data", "id", "total"} {
			if !names[want] {
				t.Errorf("Expected attribute name %s in projection, got %v", want, getInput.ExpressionAttributeNames)
			}
		}
	})
}

func TestTableMarshalBatchGet(t *testing.T) {
	table := NewTable("test-table")

	t.Run("deduplicates keys", func(t *testing.T) {
		batches, err := table.MarshalBatchGet(orderSchema(), []Identifiers{{"id": "O1"}, {"id": "O1"}, {"id": "O2"}}, nil)
		if err != nil {
			t.Fatalf("Failed to marshal batch get: %v", err)
		}
		if len(batches) != 1 {
			t.Fatalf("Expected 1 batch, got %d", len(batches))
		}
		if n := len(batches[0].RequestItems["test-table"].Keys); n != 2 {
			t.Errorf("Expected 2 keys, got %d", n)
		}
	})

	t.Run("chunks at the batch get limit", func(t *testing.T) {
		ids := make([]Identifiers, 0, 250)
		for i := 0; i < 250; i++ {
			ids = append(ids, Identifiers{"id": i})
		}
		batches, err := table.MarshalBatchGet(orderSchema(), ids, []string{"id"})
		if err != nil {
			t.Fatalf("Failed to marshal batch get: %v", err)
		}
		if len(batches) != 3 {
			t.Fatalf("Expected 3 batches, got %d", len(batches))
		}
		if n := len(batches[2].RequestItems["test-table"].Keys); n != 50 {
			t.Errorf("Expected 50 keys in the last batch, got %d", n)
		}
		if batches[0].RequestItems["test-table"].ProjectionExpression == nil {
			t.Error("Expected projection on every batch")
		}
	})
}

func TestTableMarshalBatchDelete(t *testing.T) {
	table := NewTable("test-table")

	ids := make([]Identifiers, 0, 30)
	for i := 0; i < 30; i++ {
		ids = append(ids, Identifiers{"id": i})
	}
	batches, err := table.MarshalBatchDelete(orderSchema(), ids)
	if err != nil {
		t.Fatalf("Failed to marshal batch delete: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(batches))
	}
	if n := len(batches[0].RequestItems["test-table"]); n != MaxBatchSize {
		t.Errorf("Expected %d requests, got %d", MaxBatchSize, n)
	}
	if batches[1].RequestItems["test-table"][0].DeleteRequest == nil {
		t.Error("Expected delete requests")
	}
}

func TestTableMarshalDelete(t *testing.T) {
	table := NewTable("test-table")

	deleteInput, err := table.MarshalDelete(orderSchema(), Identifiers{"id": "O1"})
	if err != nil {
		t.Fatalf("Failed to marshal delete: %v", err)
	}
	if deleteInput.ReturnValues != types.ReturnValueAllOld {
		t.Errorf("Expected ALL_OLD return values, got %s", deleteInput.ReturnValues)
	}
	if stringAttr(t, deleteInput.Key, "hk") != "order#O1" {
		t.Error("Expected hk 'order#O1'")
	}
}

func TestTableMarshalUpdate(t *testing.T) {
	table := NewTable("test-table")

	t.Run("sets data attributes", func(t *testing.T) {
		updateInput, err := table.MarshalUpdate(orderSchema(), Identifiers{"id": "O1"}, Record{"status": "paid", "total": 10})
		if err != nil {
			t.Fatalf("Failed to marshal update: %v", err)
		}
		if updateInput.UpdateExpression == nil {
			t.Fatal("Expected update expression to be set")
		}
		if !strings.HasPrefix(*updateInput.UpdateExpression, "SET ") {
			t.Errorf("Expected SET expression, got %s", *updateInput.UpdateExpression)
		}
		if updateInput.ConditionExpression == nil {
			t.Error("Expected condition expression to be set")
		}
		if updateInput.ReturnValues != types.ReturnValueAllNew {
			t.Errorf("Expected ALL_NEW return values, got %s", updateInput.ReturnValues)
		}
	})

	t.Run("rekeys touched patterns", func(t *testing.T) {
		current := Record{"id": "O1", "customerId": "C1", "status": "open"}
		updateInput, err := table.MarshalRekeyedUpdate(orderSchema(), Identifiers{"id": "O1"}, Record{"status": "paid"}, current)
		if err != nil {
			t.Fatalf("Failed to marshal update: %v", err)
		}
		var sortKey string
		for placeholder, name := range updateInput.ExpressionAttributeNames {
			if name == PatternSortKey("byCustomer") {
				sortKey = placeholder
			}
		}
		if sortKey == "" {
			t.Fatalf("Expected byCustomer_sk in %v", updateInput.ExpressionAttributeNames)
		}
		found := false
		for _, v := range updateInput.ExpressionAttributeValues {
			if s, ok := v.(*types.AttributeValueMemberS); ok && s.Value == "order#paid#O1" {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected recomputed sort key order#paid#O1 in %v", updateInput.ExpressionAttributeValues)
		}
	})

	t.Run("removes incomplete pattern keys", func(t *testing.T) {
		current := Record{"id": "O1", "customerId": "C1", "status": "open"}
		updateInput, err := table.MarshalRekeyedUpdate(orderSchema(), Identifiers{"id": "O1"}, Record{"customerId": nil}, current)
		if err != nil {
			t.Fatalf("Failed to marshal update: %v", err)
		}
		if !strings.Contains(*updateInput.UpdateExpression, "REMOVE ") {
			t.Errorf("Expected REMOVE clause, got %s", *updateInput.UpdateExpression)
		}
	})

	t.Run("rekeyed patterns", func(t *testing.T) {
		if got := RekeyedPatterns(orderSchema(), Record{"total": 1}); len(got) != 0 {
			t.Errorf("Expected no patterns, got %v", got)
		}
		got := RekeyedPatterns(orderSchema(), Record{"customerId": "C2"})
		if len(got) != 1 || got[0].Name != "byCustomer" {
			t.Errorf("Expected byCustomer, got %v", got)
		}
	})

	t.Run("empty data", func(t *testing.T) {
		if _, err := table.MarshalUpdate(orderSchema(), Identifiers{"id": "O1"}, Record{}); err == nil {
			t.Error("Expected error for empty update")
		}
	})
}

func TestTableCustomConfiguration(t *testing.T) {
	table := &Table{
		TableName:     "custom-table",
		ListIndexName: "custom-list",
		KeyDelimiter:  "|",
	}

	key, err := table.Key(orderSchema(), Identifiers{"id": "O1"})
	if err != nil {
		t.Fatalf("Failed to compose key: %v", err)
	}
	if hk := stringAttr(t, key, "hk"); hk != "order|O1" {
		t.Errorf("Expected hk 'order|O1', got %s", hk)
	}

	// a zero clock falls back to the default
	if _, err := table.MarshalPut(orderSchema(), Record{"id": "O1"}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestDataAttribute(t *testing.T) {
	t.Run("basic data attribute", func(t *testing.T) {
		condition := DataAttribute("name").Equal(expression.Value("test"))
		expr, err := expression.NewBuilder().WithCondition(condition).Build()
		if err != nil {
			t.Fatalf("Failed to build expression: %v", err)
		}
		if expr.Condition() == nil {
			t.Error("Expected condition to be built")
		}
	})

	t.Run("nested data attribute", func(t *testing.T) {
		condition := DataAttribute("user.profile.email").Equal(expression.Value("test@example.com"))
		expr, err := expression.NewBuilder().WithCondition(condition).Build()
		if err != nil {
			t.Fatalf("Failed to build expression: %v", err)
		}
		names := map[string]bool{}
		for _, v := range expr.Names() {
			names[v] = true
		}
		for _, want := range []string{"data", "user", "profile", "email"} {
			if !names[want] {
				t.Errorf("Expected name %s, got %v", want, expr.Names())
			}
		}
	})
}
