// Package dynamotest provides a scripted stand-in for dynamo.API.
package dynamotest

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Fake records every call and answers through the optional hooks. A nil hook
// returns an empty successful output.
type Fake struct {
	mu sync.Mutex

	GetItemFn            func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	PutItemFn            func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	UpdateItemFn         func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	DeleteItemFn         func(in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	QueryFn              func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	TransactWriteItemsFn func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItemFn     func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error)

	Gets      []*dynamodb.GetItemInput
	Puts      []*dynamodb.PutItemInput
	Updates   []*dynamodb.UpdateItemInput
	Deletes   []*dynamodb.DeleteItemInput
	Queries   []*dynamodb.QueryInput
	Transacts []*dynamodb.TransactWriteItemsInput
	Batches   []*dynamodb.BatchWriteItemInput
}

func (f *Fake) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	f.Gets = append(f.Gets, in)
	fn := f.GetItemFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return fn(in)
}

func (f *Fake) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	f.Puts = append(f.Puts, in)
	fn := f.PutItemFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.PutItemOutput{}, nil
	}
	return fn(in)
}

func (f *Fake) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	f.Updates = append(f.Updates, in)
	fn := f.UpdateItemFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.UpdateItemOutput{}, nil
	}
	return fn(in)
}

func (f *Fake) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	f.Deletes = append(f.Deletes, in)
	fn := f.DeleteItemFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.DeleteItemOutput{}, nil
	}
	return fn(in)
}

func (f *Fake) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	f.Queries = append(f.Queries, in)
	fn := f.QueryFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return fn(in)
}

func (f *Fake) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	f.Transacts = append(f.Transacts, in)
	fn := f.TransactWriteItemsFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}
	return fn(in)
}

func (f *Fake) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	f.Batches = append(f.Batches, in)
	fn := f.BatchWriteItemFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	return fn(in)
}

// Canceled builds the error TransactWriteItems returns when items fail, one code per item.
func Canceled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{
		Message:             aws.String("Transaction cancelled"),
		CancellationReasons: reasons,
	}
}

// ConditionFailed is the single-item conditional write failure.
func ConditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

// S reads a string attribute, "" when absent.
func S(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// N reads a number attribute as its string form, "" when absent.
func N(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		return v.Value
	}
	return ""
}
