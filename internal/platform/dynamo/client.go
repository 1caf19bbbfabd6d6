package dynamo

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/yungbote/questline-backend/internal/platform/logger"
)

// API is the slice of *dynamodb.Client the repos depend on.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

type Config struct {
	Table  string
	Region string
	// Endpoint points the client at DynamoDB Local; static credentials are used with it.
	Endpoint string
}

// DB bundles the client with the single table every repo reads and writes.
type DB struct {
	API   API
	Table string
}

func NewDB(api API, table string) *DB {
	return &DB{API: api, Table: table}
}

func NewClient(ctx context.Context, log *logger.Logger, cfg Config) (*dynamodb.Client, error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("missing dynamodb table name")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	if log != nil {
		log.Info("dynamodb client ready", "table", cfg.Table, "region", awsCfg.Region, "endpoint", cfg.Endpoint)
	}
	return client, nil
}

// Get loads one item into out. It reports false when the item does not exist.
func (db *DB) Get(ctx context.Context, pk, sk string, consistent bool, out any) (bool, error) {
	res, err := db.API.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(db.Table),
		Key:            Key(pk, sk),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return false, err
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal %s/%s: %w", pk, sk, err)
	}
	return true, nil
}

// QueryPage runs a single query page, fills the table name and returns the raw
// items with the opaque cursor for the next page ("" when exhausted).
func (db *DB) QueryPage(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, string, error) {
	in.TableName = aws.String(db.Table)
	res, err := db.API.Query(ctx, in)
	if err != nil {
		return nil, "", err
	}
	next, err := EncodeCursor(res.LastEvaluatedKey)
	if err != nil {
		return nil, "", err
	}
	return res.Items, next, nil
}

// QueryAll follows LastEvaluatedKey until the partition is exhausted.
func (db *DB) QueryAll(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	in.TableName = aws.String(db.Table)
	var out []map[string]types.AttributeValue
	for {
		res, err := db.API.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Items...)
		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		in.ExclusiveStartKey = res.LastEvaluatedKey
	}
}

// Transact submits the items against the table. Items must already carry the table name.
func (db *DB) Transact(ctx context.Context, items []types.TransactWriteItem, token string) error {
	in := &dynamodb.TransactWriteItemsInput{TransactItems: items}
	if token != "" {
		in.ClientRequestToken = aws.String(token)
	}
	_, err := db.API.TransactWriteItems(ctx, in)
	return err
}
