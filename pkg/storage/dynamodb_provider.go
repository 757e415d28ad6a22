package storage

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
)

// Single-table layout. Every item has pk/sk; items listed by owner or
// organization also carry gsi1pk/gsi1sk.
const (
	attrPK     = "pk"
	attrSK     = "sk"
	attrGSI1PK = "gsi1pk"
	attrGSI1SK = "gsi1sk"
	gsi1Name   = "gsi1"
)

// DynamoDBProvider implements the StorageProvider interface using DynamoDB
type DynamoDBProvider struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// DynamoDBProviderConfig contains configuration for the DynamoDB provider
type DynamoDBProviderConfig struct {
	Region      string
	AccessKey   string
	SecretKey   string
	TablePrefix string
	Endpoint    string // Optional, for local DynamoDB
}

// NewDynamoDBProvider creates a new DynamoDB storage provider
func NewDynamoDBProvider(config DynamoDBProviderConfig) (*DynamoDBProvider, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}

	// Set credentials if provided
	if config.AccessKey != "" && config.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		)
	}

	// Set endpoint for local DynamoDB if provided
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewDynamoDBProviderWithClient(dynamodb.New(sess), config.TablePrefix), nil
}

// NewDynamoDBProviderWithClient creates a new DynamoDB storage provider with a custom client
// This is primarily used for testing with mock clients
func NewDynamoDBProviderWithClient(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBProvider {
	return &DynamoDBProvider{
		client:    client,
		tableName: tablePrefix + "portal",
	}
}

// Initialize creates the table if it doesn't exist
func (p *DynamoDBProvider) Initialize() error {
	_, err := p.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(p.tableName),
	})
	if err == nil {
		return nil
	}

	aerr, ok := err.(awserr.Error)
	if !ok || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("failed to describe table: %w", err)
	}

	stringAttr := func(name string) *dynamodb.AttributeDefinition {
		return &dynamodb.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: aws.String("S"),
		}
	}
	keyElem := func(name, keyType string) *dynamodb.KeySchemaElement {
		return &dynamodb.KeySchemaElement{
			AttributeName: aws.String(name),
			KeyType:       aws.String(keyType),
		}
	}

	_, err = p.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(p.tableName),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			stringAttr(attrPK),
			stringAttr(attrSK),
			stringAttr(attrGSI1PK),
			stringAttr(attrGSI1SK),
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			keyElem(attrPK, "HASH"),
			keyElem(attrSK, "RANGE"),
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(gsi1Name),
				KeySchema: []*dynamodb.KeySchemaElement{
					keyElem(attrGSI1PK, "HASH"),
					keyElem(attrGSI1SK, "RANGE"),
				},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String("ALL"),
				},
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if err := p.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(p.tableName),
	}); err != nil {
		return fmt.Errorf("failed waiting for table: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *DynamoDBProvider) Close() error {
	// Nothing to close for DynamoDB client
	return nil
}

// GetKeyStore returns a store for API key metadata
func (p *DynamoDBProvider) GetKeyStore() KeyStore {
	return &DynamoDBKeyStore{p}
}

// GetInvitationStore returns a store for invitations
func (p *DynamoDBProvider) GetInvitationStore() InvitationStore {
	return &DynamoDBInvitationStore{p}
}

// GetPreferenceStore returns a store for preferences
func (p *DynamoDBProvider) GetPreferenceStore() PreferenceStore {
	return &DynamoDBPreferenceStore{p}
}

// GetMembershipStore returns a store for memberships
func (p *DynamoDBProvider) GetMembershipStore() MembershipStore {
	return &DynamoDBMembershipStore{p}
}

func stringValue(s string) *dynamodb.AttributeValue {
	return &dynamodb.AttributeValue{S: aws.String(s)}
}

func itemKey(pk, sk string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		attrPK: stringValue(pk),
		attrSK: stringValue(sk),
	}
}

// putRecord marshals v and stores it under the given keys. gsiPK may be
// empty for items that are not listed through the index.
func (p *DynamoDBProvider) putRecord(v interface{}, pk, sk, gsiPK, gsiSK string) error {
	item, err := dynamodbattribute.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	item[attrPK] = stringValue(pk)
	item[attrSK] = stringValue(sk)
	if gsiPK != "" {
		item[attrGSI1PK] = stringValue(gsiPK)
		item[attrGSI1SK] = stringValue(gsiSK)
	}

	_, err = p.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(p.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// getRecord loads one item into v and reports whether it existed
func (p *DynamoDBProvider) getRecord(pk, sk string, v interface{}) (bool, error) {
	result, err := p.client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(p.tableName),
		Key:       itemKey(pk, sk),
	})
	if err != nil {
		return false, fmt.Errorf("failed to get item: %w", err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := dynamodbattribute.UnmarshalMap(result.Item, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

// query runs a key-condition query, following pagination, and hands every
// item to fn.
func (p *DynamoDBProvider) query(indexName string, keyCond expression.KeyConditionBuilder, forward bool, fn func(map[string]*dynamodb.AttributeValue) error) error {
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(p.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(forward),
	}
	if indexName != "" {
		input.IndexName = aws.String(indexName)
	}

	for {
		result, err := p.client.Query(input)
		if err != nil {
			return fmt.Errorf("failed to query items: %w", err)
		}
		for _, item := range result.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if len(result.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

func sortableTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// DynamoDBKeyStore implements the KeyStore interface using DynamoDB
type DynamoDBKeyStore struct {
	p *DynamoDBProvider
}

// Save persists key metadata
func (s *DynamoDBKeyStore) Save(id string, meta KeyMetadata) error {
	meta.ID = id
	return s.p.putRecord(meta, "KEY#"+id, "KEY",
		"OWNER#"+meta.OwnerID, "KEY#"+sortableTime(meta.CreatedAt)+"#"+id)
}

// Get retrieves key metadata
func (s *DynamoDBKeyStore) Get(id string) (KeyMetadata, error) {
	var meta KeyMetadata
	found, err := s.p.getRecord("KEY#"+id, "KEY", &meta)
	if err != nil {
		return KeyMetadata{}, err
	}
	if !found {
		return KeyMetadata{}, ErrKeyNotFound
	}
	return meta, nil
}

// Delete removes key metadata
func (s *DynamoDBKeyStore) Delete(id string) error {
	cond := expression.AttributeExists(expression.Name(attrPK))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.p.client.DeleteItem(&dynamodb.DeleteItemInput{
		TableName:                aws.String(s.p.tableName),
		Key:                      itemKey("KEY#"+id, "KEY"),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return nil
}

// ListForUser returns all keys owned by userID, newest first
func (s *DynamoDBKeyStore) ListForUser(userID string) ([]KeyMetadata, error) {
	keyCond := expression.Key(attrGSI1PK).Equal(expression.Value("OWNER#" + userID)).
		And(expression.Key(attrGSI1SK).BeginsWith("KEY#"))

	keys := []KeyMetadata{}
	err := s.p.query(gsi1Name, keyCond, false, func(item map[string]*dynamodb.AttributeValue) error {
		var meta KeyMetadata
		if err := dynamodbattribute.UnmarshalMap(item, &meta); err != nil {
			return fmt.Errorf("failed to unmarshal api key: %w", err)
		}
		keys = append(keys, meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// DynamoDBInvitationStore implements the InvitationStore interface using DynamoDB
type DynamoDBInvitationStore struct {
	p *DynamoDBProvider
}

// SaveInvitation persists an invitation
func (s *DynamoDBInvitationStore) SaveInvitation(inv Invitation) error {
	return s.p.putRecord(inv, "INVITE#"+inv.ID, "INVITE",
		"ORG#"+inv.OrgID, "INVITE#"+sortableTime(inv.CreatedAt)+"#"+inv.ID)
}

// GetInvitation retrieves an invitation
func (s *DynamoDBInvitationStore) GetInvitation(id string) (Invitation, error) {
	var inv Invitation
	found, err := s.p.getRecord("INVITE#"+id, "INVITE", &inv)
	if err != nil {
		return Invitation{}, err
	}
	if !found {
		return Invitation{}, ErrInvitationNotFound
	}
	return inv, nil
}

// ListInvitations returns all invitations for an organization, newest first
func (s *DynamoDBInvitationStore) ListInvitations(orgID string) ([]Invitation, error) {
	keyCond := expression.Key(attrGSI1PK).Equal(expression.Value("ORG#" + orgID)).
		And(expression.Key(attrGSI1SK).BeginsWith("INVITE#"))

	invitations := []Invitation{}
	err := s.p.query(gsi1Name, keyCond, false, func(item map[string]*dynamodb.AttributeValue) error {
		var inv Invitation
		if err := dynamodbattribute.UnmarshalMap(item, &inv); err != nil {
			return fmt.Errorf("failed to unmarshal invitation: %w", err)
		}
		invitations = append(invitations, inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invitations, nil
}

// DynamoDBPreferenceStore implements the PreferenceStore interface using DynamoDB
type DynamoDBPreferenceStore struct {
	p *DynamoDBProvider
}

type preferenceItem struct {
	Value string `json:"value"`
}

// GetPreference returns a stored preference
func (s *DynamoDBPreferenceStore) GetPreference(userID, key string) (string, error) {
	var item preferenceItem
	found, err := s.p.getRecord("USER#"+userID, "PREF#"+key, &item)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrPreferenceNotFound
	}
	return item.Value, nil
}

// SetPreference stores a preference
func (s *DynamoDBPreferenceStore) SetPreference(userID, key, value string) error {
	return s.p.putRecord(preferenceItem{Value: value}, "USER#"+userID, "PREF#"+key, "", "")
}

// DynamoDBMembershipStore implements the MembershipStore interface using DynamoDB
type DynamoDBMembershipStore struct {
	p *DynamoDBProvider
}

// AddMember creates or updates a membership
func (s *DynamoDBMembershipStore) AddMember(m Membership) error {
	return s.p.putRecord(m, "USER#"+m.UserID, "MEMBER#"+m.OrgID, "", "")
}

// ListMemberships returns the user's memberships
func (s *DynamoDBMembershipStore) ListMemberships(userID string) ([]Membership, error) {
	keyCond := expression.Key(attrPK).Equal(expression.Value("USER#" + userID)).
		And(expression.Key(attrSK).BeginsWith("MEMBER#"))

	memberships := []Membership{}
	err := s.p.query("", keyCond, true, func(item map[string]*dynamodb.AttributeValue) error {
		var m Membership
		if err := dynamodbattribute.UnmarshalMap(item, &m); err != nil {
			return fmt.Errorf("failed to unmarshal membership: %w", err)
		}
		memberships = append(memberships, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return memberships, nil
}
