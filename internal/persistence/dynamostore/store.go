// Package dynamostore keeps container records, the shadow log and pending
// negotiation sessions in DynamoDB.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/persistence"
)

const (
	skRecord  = "RECORD"
	skSession = "SESSION"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Client implements persistence.Store, the shadow log sink and reader, and
// negotiation.Store over one table per container plus an entries table and
// a sessions table.
type Client struct {
	api          dynamodbAPI
	tables       persistence.Tables
	sessionTable string
}

// New creates a Client. Every table name must be set.
func New(api dynamodbAPI, tables persistence.Tables, sessionTable string) (*Client, error) {
	if api == nil {
		return nil, errors.New("dynamostore: api must not be nil")
	}
	for name, v := range map[string]string{
		"food": tables.Food, "sleep": tables.Sleep, "exercise": tables.Exercise,
		"entries": tables.Entries, "sessions": sessionTable,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("dynamostore: %s table name must not be empty", name)
		}
	}
	return &Client{api: api, tables: tables, sessionTable: sessionTable}, nil
}

// recordPK keys a container row by its dedupe key, so a repeated logical
// write collides on the primary key.
func recordPK(dedupeKey string) string {
	return "DEDUPE#" + dedupeKey
}

// Insert writes rec to its container table. The write is conditional on the
// key being new; a collision comes back as a 409 StoreError.
func (c *Client) Insert(ctx context.Context, rec domain.Record, dedupeKey, correlationID string) (string, error) {
	table, ok := c.tables.For(rec.Container())
	if !ok {
		return "", &persistence.StoreError{Status: 400, Body: "no table for container " + string(rec.Container())}
	}
	item := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: recordPK(dedupeKey)},
		"SK": &types.AttributeValueMemberS{Value: skRecord},
	}
	for _, col := range persistence.Row(rec, dedupeKey, correlationID) {
		item[col.Name] = columnAttr(col)
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return "", fmt.Errorf("dynamostore: Insert %s: %w", table, storeError(err))
	}
	return dedupeKey, nil
}
