package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DeliveryStore keeps failed downstream calls in DynamoDB, where the retry
// worker picks them up.
type DeliveryStore struct {
	svc   dynamoAPI
	table string
}

func NewDeliveryStore(cfg aws.Config, table string) *DeliveryStore {
	return &DeliveryStore{svc: dynamodb.NewFromConfig(cfg), table: table}
}

// RecordPending is idempotent per delivery id.
func (c *DeliveryStore) RecordPending(ctx context.Context, d domain.PendingDelivery) error {
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	item["status"] = &types.AttributeValueMemberS{Value: "PENDING"}

	_, err = c.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(deliveryId)"),
	})
	if err != nil {
		var exists *types.ConditionalCheckFailedException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to put item in DynamoDB: %w", err)
	}
	return nil
}

// PendingFor lists the undelivered calls of one alert, newest first.
func (c *DeliveryStore) PendingFor(ctx context.Context, alertID string) ([]domain.PendingDelivery, error) {
	result, err := c.svc.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		IndexName:              aws.String("alertId-index"),
		KeyConditionExpression: aws.String("alertId = :aid"),
		FilterExpression:       aws.String("#st = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid":     &types.AttributeValueMemberS{Value: alertID},
			":pending": &types.AttributeValueMemberS{Value: "PENDING"},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}

	var out []domain.PendingDelivery
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deliveries: %w", err)
	}
	return out, nil
}
