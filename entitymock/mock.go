package entitymock

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/johnny-rice/fw24"
)

type DynamoDBAPICall[T, U any] = func(context.Context, *T, ...func(*dynamodb.Options)) (*U, error)

// MockClient is a simple expectation-based mock of fw24.DynamoDBClient.
// Every operation fails the test unless its func is replaced.
type MockClient struct {
	PutFunc            DynamoDBAPICall[dynamodb.PutItemInput, dynamodb.PutItemOutput]
	GetFunc            DynamoDBAPICall[dynamodb.GetItemInput, dynamodb.GetItemOutput]
	QueryFunc          DynamoDBAPICall[dynamodb.QueryInput, dynamodb.QueryOutput]
	BatchGetItemFunc   DynamoDBAPICall[dynamodb.BatchGetItemInput, dynamodb.BatchGetItemOutput]
	BatchWriteItemFunc DynamoDBAPICall[dynamodb.BatchWriteItemInput, dynamodb.BatchWriteItemOutput]
	DeleteFunc         DynamoDBAPICall[dynamodb.DeleteItemInput, dynamodb.DeleteItemOutput]
	UpdateFunc         DynamoDBAPICall[dynamodb.UpdateItemInput, dynamodb.UpdateItemOutput]
}

var _ fw24.DynamoDBClient = (*MockClient)(nil)

// NewMockClient creates a mock whose operations all fail the test.
func NewMockClient(t *testing.T) *MockClient {
	return &MockClient{
		PutFunc:            defaultFunc[dynamodb.PutItemInput, dynamodb.PutItemOutput](t),
		GetFunc:            defaultFunc[dynamodb.GetItemInput, dynamodb.GetItemOutput](t),
		QueryFunc:          defaultFunc[dynamodb.QueryInput, dynamodb.QueryOutput](t),
		BatchGetItemFunc:   defaultFunc[dynamodb.BatchGetItemInput, dynamodb.BatchGetItemOutput](t),
		BatchWriteItemFunc: defaultFunc[dynamodb.BatchWriteItemInput, dynamodb.BatchWriteItemOutput](t),
		DeleteFunc:         defaultFunc[dynamodb.DeleteItemInput, dynamodb.DeleteItemOutput](t),
		UpdateFunc:         defaultFunc[dynamodb.UpdateItemInput, dynamodb.UpdateItemOutput](t),
	}
}

func defaultFunc[T, U any](t *testing.T) DynamoDBAPICall[T, U] {
	return func(ctx context.Context, params *T, optFns ...func(*dynamodb.Options)) (*U, error) {
		t.Fatal("unexpected call")
		return nil, nil
	}
}

func (m *MockClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return m.PutFunc(ctx, params, optFns...)
}

func (m *MockClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return m.GetFunc(ctx, params, optFns...)
}

func (m *MockClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return m.UpdateFunc(ctx, params, optFns...)
}

func (m *MockClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return m.DeleteFunc(ctx, params, optFns...)
}

func (m *MockClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return m.BatchGetItemFunc(ctx, params, optFns...)
}

func (m *MockClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return m.BatchWriteItemFunc(ctx, params, optFns...)
}

func (m *MockClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return m.QueryFunc(ctx, params, optFns...)
}

// MockPersistence is a func-field fw24.Persistence that counts calls per
// operation. Unset operations fail the test.
type MockPersistence struct {
	GetFunc    func(context.Context, fw24.GetEntityInput) ([]fw24.Record, error)
	CreateFunc func(context.Context, fw24.CreateEntityInput) (fw24.Record, error)
	UpdateFunc func(context.Context, fw24.UpdateEntityInput) (fw24.Record, error)
	DeleteFunc func(context.Context, fw24.DeleteEntityInput) ([]fw24.Record, error)
	ListFunc   func(context.Context, fw24.ListEntityInput) (*fw24.ListEntityOutput, error)
	QueryFunc  func(context.Context, fw24.ListEntityInput) (*fw24.ListEntityOutput, error)

	t     *testing.T
	mu    sync.Mutex
	calls map[string]int
}

var _ fw24.Persistence = (*MockPersistence)(nil)

func NewMockPersistence(t *testing.T) *MockPersistence {
	return &MockPersistence{t: t, calls: make(map[string]int)}
}

// Calls returns how many times op ("get", "create", "update", "delete",
// "list" or "query") was invoked.
func (m *MockPersistence) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockPersistence) record(op string, set bool) {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()
	if !set {
		m.t.Fatalf("unexpected %s call", op)
	}
}

func (m *MockPersistence) GetEntity(ctx context.Context, in fw24.GetEntityInput) ([]fw24.Record, error) {
	m.record("get", m.GetFunc != nil)
	return m.GetFunc(ctx, in)
}

func (m *MockPersistence) CreateEntity(ctx context.Context, in fw24.CreateEntityInput) (fw24.Record, error) {
	m.record("create", m.CreateFunc != nil)
	return m.CreateFunc(ctx, in)
}

func (m *MockPersistence) UpdateEntity(ctx context.Context, in fw24.UpdateEntityInput) (fw24.Record, error) {
	m.record("update", m.UpdateFunc != nil)
	return m.UpdateFunc(ctx, in)
}

func (m *MockPersistence) DeleteEntity(ctx context.Context, in fw24.DeleteEntityInput) ([]fw24.Record, error) {
	m.record("delete", m.DeleteFunc != nil)
	return m.DeleteFunc(ctx, in)
}

func (m *MockPersistence) ListEntity(ctx context.Context, in fw24.ListEntityInput) (*fw24.ListEntityOutput, error) {
	m.record("list", m.ListFunc != nil)
	return m.ListFunc(ctx, in)
}

func (m *MockPersistence) QueryEntity(ctx context.Context, in fw24.ListEntityInput) (*fw24.ListEntityOutput, error) {
	m.record("query", m.QueryFunc != nil)
	return m.QueryFunc(ctx, in)
}
