package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

// DefaultDynamoTable is used when no table name is configured.
const DefaultDynamoTable = "pricing_quotes"

// DynamoAPI is the subset of the DynamoDB client the store calls.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoConfig locates the DynamoDB endpoint.
type DynamoConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewDynamoClient builds a client. Static credentials and a custom endpoint
// are only applied when set, which keeps DynamoDB Local usable.
func NewDynamoClient(ctx context.Context, cfg DynamoConfig) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("quotes: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// quoteItem is keyed by tenant_id (partition) and quote_id (sort). The
// expires_at_epoch attribute drives the table TTL.
type quoteItem struct {
	TenantID       string `dynamodbav:"tenant_id"`
	QuoteID        string `dynamodbav:"quote_id"`
	Payload        string `dynamodbav:"payload"`
	ExpiresAtEpoch int64  `dynamodbav:"expires_at_epoch"`
}

// DynamoStore keeps quotes in a DynamoDB table with native TTL.
type DynamoStore struct {
	ddb   DynamoAPI
	table string
	clock clock.Clock
}

// NewDynamoStore constructs the store.
func NewDynamoStore(ddb DynamoAPI, table string, clk clock.Clock) *DynamoStore {
	if table == "" {
		table = DefaultDynamoTable
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &DynamoStore{ddb: ddb, table: table, clock: clk}
}

var _ pricing.QuoteStore = (*DynamoStore)(nil)

// Save writes the quote unless the id already exists.
func (s *DynamoStore) Save(ctx context.Context, q pricing.Quote) (pricing.Quote, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: encode: %w", err)
	}
	av, err := attributevalue.MarshalMap(quoteItem{
		TenantID:       q.TenantID,
		QuoteID:        q.ID.String(),
		Payload:        string(payload),
		ExpiresAtEpoch: q.ExpiresAt.Unix(),
	})
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: marshal item: %w", err)
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#qid)"),
		ExpressionAttributeNames: map[string]string{
			"#qid": "quote_id",
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return pricing.Quote{}, fmt.Errorf("%w: %s", ErrDuplicateQuote, q.ID)
		}
		return pricing.Quote{}, fmt.Errorf("quotes: put item: %w", err)
	}
	return q, nil
}

// FindByID reads the quote. DynamoDB deletes expired items lazily, so expiry
// is checked here as well.
func (s *DynamoStore) FindByID(ctx context.Context, tenantID string, id uuid.UUID) (pricing.Quote, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"tenant_id": &types.AttributeValueMemberS{Value: tenantID},
			"quote_id":  &types.AttributeValueMemberS{Value: id.String()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: get item: %w", err)
	}
	if len(out.Item) == 0 {
		return pricing.Quote{}, pricing.ErrQuoteNotFound
	}
	var it quoteItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: unmarshal item: %w", err)
	}
	var q pricing.Quote
	if err := json.Unmarshal([]byte(it.Payload), &q); err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: decode: %w", err)
	}
	return visible(q, tenantID, s.clock)
}
