package storage

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// MockDynamoDBAPI implements the parts of dynamodbiface.DynamoDBAPI the
// provider uses, in memory
type MockDynamoDBAPI struct {
	dynamodbiface.DynamoDBAPI
	mu     sync.RWMutex
	tables map[string]*MockTable
}

// MockTable represents a DynamoDB table in memory
type MockTable struct {
	Name      string
	Items     map[string]map[string]*dynamodb.AttributeValue
	KeySchema []*dynamodb.KeySchemaElement
	GSI       map[string][]*dynamodb.KeySchemaElement
}

// NewMockDynamoDBAPI creates a new mock DynamoDB client
func NewMockDynamoDBAPI() *MockDynamoDBAPI {
	return &MockDynamoDBAPI{
		tables: make(map[string]*MockTable),
	}
}

var (
	eqCondition         = regexp.MustCompile(`(#?\w+)\s*=\s*(:\w+)`)
	beginsWithCondition = regexp.MustCompile(`begins_with\s*\(\s*(#?\w+)\s*,\s*(:\w+)\s*\)`)
)

// CreateTable creates a mock table
func (m *MockDynamoDBAPI) CreateTable(input *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tableName := aws.StringValue(input.TableName)
	if _, exists := m.tables[tableName]; exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceInUseException, "table already exists: "+tableName, nil)
	}

	gsi := make(map[string][]*dynamodb.KeySchemaElement)
	for _, idx := range input.GlobalSecondaryIndexes {
		gsi[aws.StringValue(idx.IndexName)] = idx.KeySchema
	}

	m.tables[tableName] = &MockTable{
		Name:      tableName,
		Items:     make(map[string]map[string]*dynamodb.AttributeValue),
		KeySchema: input.KeySchema,
		GSI:       gsi,
	}

	return &dynamodb.CreateTableOutput{
		TableDescription: &dynamodb.TableDescription{
			TableName:   input.TableName,
			TableStatus: aws.String("ACTIVE"),
		},
	}, nil
}

// DescribeTable describes a mock table
func (m *MockDynamoDBAPI) DescribeTable(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, exists := m.tables[aws.StringValue(input.TableName)]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "Requested resource not found", nil)
	}

	return &dynamodb.DescribeTableOutput{
		Table: &dynamodb.TableDescription{
			TableName:   aws.String(table.Name),
			TableStatus: aws.String("ACTIVE"),
			KeySchema:   table.KeySchema,
		},
	}, nil
}

// WaitUntilTableExists returns immediately; mock tables are active on creation
func (m *MockDynamoDBAPI) WaitUntilTableExists(input *dynamodb.DescribeTableInput) error {
	return nil
}

// PutItem puts an item in a mock table
func (m *MockDynamoDBAPI) PutItem(input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}
	table.Items[generateKey(table.KeySchema, input.Item)] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

// GetItem gets an item from a mock table
func (m *MockDynamoDBAPI) GetItem(input *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}
	item, exists := table.Items[generateKey(table.KeySchema, input.Key)]
	if !exists {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// DeleteItem deletes an item from a mock table. Any condition expression is
// treated as "the item must exist".
func (m *MockDynamoDBAPI) DeleteItem(input *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	key := generateKey(table.KeySchema, input.Key)
	if _, exists := table.Items[key]; !exists && input.ConditionExpression != nil {
		return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
	}
	delete(table.Items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

// Query evaluates equality and begins_with key conditions against the table
// or one of its indexes and orders results by the range key
func (m *MockDynamoDBAPI) Query(input *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	schema := table.KeySchema
	if input.IndexName != nil {
		idx, ok := table.GSI[aws.StringValue(input.IndexName)]
		if !ok {
			return nil, fmt.Errorf("index not found: %s", aws.StringValue(input.IndexName))
		}
		schema = idx
	}

	cond := aws.StringValue(input.KeyConditionExpression)
	resolve := func(name string) string {
		if strings.HasPrefix(name, "#") {
			return aws.StringValue(input.ExpressionAttributeNames[name])
		}
		return name
	}
	value := func(placeholder string) string {
		if v, ok := input.ExpressionAttributeValues[placeholder]; ok {
			return aws.StringValue(v.S)
		}
		return ""
	}

	type check struct {
		attr   string
		value  string
		prefix bool
	}
	var checks []check
	for _, match := range eqCondition.FindAllStringSubmatch(cond, -1) {
		checks = append(checks, check{attr: resolve(match[1]), value: value(match[2])})
	}
	for _, match := range beginsWithCondition.FindAllStringSubmatch(cond, -1) {
		checks = append(checks, check{attr: resolve(match[1]), value: value(match[2]), prefix: true})
	}

	var rangeKey string
	for _, elem := range schema {
		if aws.StringValue(elem.KeyType) == "RANGE" {
			rangeKey = aws.StringValue(elem.AttributeName)
		}
	}

	var resultItems []map[string]*dynamodb.AttributeValue
	for _, item := range table.Items {
		if !hasAttributes(schema, item) {
			continue
		}
		matched := true
		for _, c := range checks {
			attr, ok := item[c.attr]
			if !ok || attr.S == nil {
				matched = false
				break
			}
			got := aws.StringValue(attr.S)
			if (c.prefix && !strings.HasPrefix(got, c.value)) || (!c.prefix && got != c.value) {
				matched = false
				break
			}
		}
		if matched {
			resultItems = append(resultItems, item)
		}
	}

	forward := input.ScanIndexForward == nil || aws.BoolValue(input.ScanIndexForward)
	sort.Slice(resultItems, func(i, j int) bool {
		a := aws.StringValue(resultItems[i][rangeKey].S)
		b := aws.StringValue(resultItems[j][rangeKey].S)
		if forward {
			return a < b
		}
		return a > b
	})

	if input.Limit != nil {
		limit := int(aws.Int64Value(input.Limit))
		if limit < len(resultItems) {
			resultItems = resultItems[:limit]
		}
	}

	return &dynamodb.QueryOutput{
		Items: resultItems,
		Count: aws.Int64(int64(len(resultItems))),
	}, nil
}

func (m *MockDynamoDBAPI) table(name *string) (*MockTable, error) {
	table, exists := m.tables[aws.StringValue(name)]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "table not found: "+aws.StringValue(name), nil)
	}
	return table, nil
}

// hasAttributes reports whether item carries every key attribute; index
// queries skip items outside a sparse index
func hasAttributes(schema []*dynamodb.KeySchemaElement, item map[string]*dynamodb.AttributeValue) bool {
	for _, elem := range schema {
		if _, ok := item[aws.StringValue(elem.AttributeName)]; !ok {
			return false
		}
	}
	return true
}

// generateKey generates a composite key from key schema and item attributes
func generateKey(keySchema []*dynamodb.KeySchemaElement, item map[string]*dynamodb.AttributeValue) string {
	var keyParts []string
	for _, keyElement := range keySchema {
		attrName := aws.StringValue(keyElement.AttributeName)
		if attr, exists := item[attrName]; exists {
			if attr.S != nil {
				keyParts = append(keyParts, aws.StringValue(attr.S))
			} else if attr.N != nil {
				keyParts = append(keyParts, aws.StringValue(attr.N))
			}
		}
	}
	return strings.Join(keyParts, "#")
}
