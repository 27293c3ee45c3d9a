package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"relay/internal/domain"
)

const (
	skState     = "STATE"
	pkSettings  = "SETTINGS"
	skSettings  = "APP"
	convPrefix  = "CONV#"
	attrDoc     = "doc"
	attrUpdated = "updatedAt"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Client stores conversations and settings in a single DynamoDB table keyed
// by PK/SK. Each conversation is one item holding its JSON document.
type Client struct {
	api       dynamodbAPI
	tableName string
}

func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func convPK(id string) string { return convPrefix + id }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// LoadConversations scans every conversation item, following pagination.
func (c *Client) LoadConversations(ctx context.Context) ([]domain.Conversation, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(c.tableName),
		FilterExpression: aws.String("begins_with(PK, :prefix) AND SK = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: convPrefix},
			":sk":     &types.AttributeValueMemberS{Value: skState},
		},
	}
	var out []domain.Conversation
	for {
		page, err := c.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("dynamo: LoadConversations scan: %w", err)
		}
		for _, item := range page.Items {
			var conv domain.Conversation
			if err := decodeDoc(item, &conv); err != nil {
				return nil, fmt.Errorf("dynamo: LoadConversations: %w", err)
			}
			out = append(out, conv)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

func (c *Client) SaveConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.ID == "" {
		return errors.New("dynamo: SaveConversation: id is required")
	}
	if err := c.put(ctx, convPK(conv.ID), skState, conv); err != nil {
		return fmt.Errorf("dynamo: SaveConversation: %w", err)
	}
	return nil
}

func (c *Client) LoadSettings(ctx context.Context) (domain.AppSettings, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(pkSettings, skSettings),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.AppSettings{}, false, fmt.Errorf("dynamo: LoadSettings get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.AppSettings{}, false, nil
	}
	var a domain.AppSettings
	if err := decodeDoc(out.Item, &a); err != nil {
		return domain.AppSettings{}, false, fmt.Errorf("dynamo: LoadSettings: %w", err)
	}
	return a, true, nil
}

func (c *Client) SaveSettings(ctx context.Context, a domain.AppSettings) error {
	if err := c.put(ctx, pkSettings, skSettings, a); err != nil {
		return fmt.Errorf("dynamo: SaveSettings: %w", err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, pk, sk string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	item := key(pk, sk)
	item[attrDoc] = &types.AttributeValueMemberS{Value: string(doc)}
	item[attrUpdated] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	return err
}

func decodeDoc(item map[string]types.AttributeValue, v any) error {
	raw, ok := item[attrDoc]
	if !ok {
		return fmt.Errorf("missing attribute %q", attrDoc)
	}
	s, ok := raw.(*types.AttributeValueMemberS)
	if !ok {
		return fmt.Errorf("attribute %q is not a string", attrDoc)
	}
	if err := json.Unmarshal([]byte(s.Value), v); err != nil {
		return fmt.Errorf("decode %q: %w", attrDoc, err)
	}
	return nil
}
