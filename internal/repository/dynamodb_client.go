package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"chat-relay/internal/domain"
)

const (
	pkPrefixExchange = "EXCHANGE#"
	skPrefixMsg      = "MSG#"
	ttlDuration      = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client archives relayed exchanges in a DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func exchangePK(id string) string {
	return pkPrefixExchange + id
}

func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

// NewExchange constructs an Exchange with ID, keys and TTL set.
func (c *Client) NewExchange(requestID, model, message, response string, chunks int) domain.Exchange {
	now := c.now().UTC()
	id := uuid.NewString()
	return domain.Exchange{
		PK:        exchangePK(id),
		SK:        msgSK(now),
		ID:        id,
		RequestID: requestID,
		Model:     model,
		Message:   message,
		Response:  response,
		Chunks:    chunks,
		CreatedAt: now,
		TTL:       now.Add(ttlDuration).Unix(),
	}
}

// SaveExchange writes ex once; an existing item with the same keys is never
// overwritten.
func (c *Client) SaveExchange(ctx context.Context, ex domain.Exchange) error {
	if ex.PK == "" || ex.SK == "" {
		return errors.New("repository: SaveExchange: PK and SK are required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                exchangeItem(ex),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveExchange: %w", err)
	}
	return nil
}

func exchangeItem(ex domain.Exchange) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: ex.PK},
		"SK":        &types.AttributeValueMemberS{Value: ex.SK},
		"id":        &types.AttributeValueMemberS{Value: ex.ID},
		"requestId": &types.AttributeValueMemberS{Value: ex.RequestID},
		"model":     &types.AttributeValueMemberS{Value: ex.Model},
		"message":   &types.AttributeValueMemberS{Value: ex.Message},
		"response":  &types.AttributeValueMemberS{Value: ex.Response},
		"chunks":    &types.AttributeValueMemberN{Value: strconv.Itoa(ex.Chunks)},
		"createdAt": &types.AttributeValueMemberS{Value: ex.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ex.TTL, 10)},
	}
}
