package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Cond lifts a condition into the optional form the helpers take.
func Cond(c expression.ConditionBuilder) *expression.ConditionBuilder { return &c }

// NotExists guards a create: the item key must be unused.
func NotExists() *expression.ConditionBuilder {
	return Cond(expression.AttributeNotExists(expression.Name(AttrPK)))
}

// Exists guards an update or delete against resurrecting a missing item.
func Exists() *expression.ConditionBuilder {
	return Cond(expression.AttributeExists(expression.Name(AttrPK)))
}

// VersionIs guards an optimistic write. Version 0 means "not created yet".
func VersionIs(v int64) *expression.ConditionBuilder {
	if v == 0 {
		return NotExists()
	}
	return Cond(expression.Name(AttrVersion).Equal(expression.Value(v)))
}

func buildExpr(upd *expression.UpdateBuilder, cond *expression.ConditionBuilder) (*expression.Expression, error) {
	if upd == nil && cond == nil {
		return nil, nil
	}
	b := expression.NewBuilder()
	if upd != nil {
		b = b.WithUpdate(*upd)
	}
	if cond != nil {
		b = b.WithCondition(*cond)
	}
	expr, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build expression: %w", err)
	}
	return &expr, nil
}

func conditionOf(expr *expression.Expression) *string {
	if expr == nil {
		return nil
	}
	return expr.Condition()
}

func namesOf(expr *expression.Expression) map[string]string {
	if expr == nil {
		return nil
	}
	return expr.Names()
}

func valuesOf(expr *expression.Expression) map[string]types.AttributeValue {
	if expr == nil {
		return nil
	}
	return expr.Values()
}

func TxPut(table string, v any, cond *expression.ConditionBuilder) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal item: %w", err)
	}
	expr, err := buildExpr(nil, cond)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:                 aws.String(table),
		Item:                      item,
		ConditionExpression:       conditionOf(expr),
		ExpressionAttributeNames:  namesOf(expr),
		ExpressionAttributeValues: valuesOf(expr),
	}}, nil
}

func TxUpdate(table, pk, sk string, upd expression.UpdateBuilder, cond *expression.ConditionBuilder) (types.TransactWriteItem, error) {
	expr, err := buildExpr(&upd, cond)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                 aws.String(table),
		Key:                       Key(pk, sk),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       conditionOf(expr),
		ExpressionAttributeNames:  namesOf(expr),
		ExpressionAttributeValues: valuesOf(expr),
	}}, nil
}

func TxDelete(table, pk, sk string, cond *expression.ConditionBuilder) (types.TransactWriteItem, error) {
	expr, err := buildExpr(nil, cond)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName:                 aws.String(table),
		Key:                       Key(pk, sk),
		ConditionExpression:       conditionOf(expr),
		ExpressionAttributeNames:  namesOf(expr),
		ExpressionAttributeValues: valuesOf(expr),
	}}, nil
}

// Put writes a whole item, optionally guarded by cond.
func (db *DB) Put(ctx context.Context, v any, cond *expression.ConditionBuilder) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	expr, err := buildExpr(nil, cond)
	if err != nil {
		return err
	}
	_, err = db.API.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(db.Table),
		Item:                      item,
		ConditionExpression:       conditionOf(expr),
		ExpressionAttributeNames:  namesOf(expr),
		ExpressionAttributeValues: valuesOf(expr),
	})
	return err
}

// Update applies upd and, when out is non-nil, unmarshals the item as it is
// after the write.
func (db *DB) Update(ctx context.Context, pk, sk string, upd expression.UpdateBuilder, cond *expression.ConditionBuilder, out any) error {
	expr, err := buildExpr(&upd, cond)
	if err != nil {
		return err
	}
	in := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(db.Table),
		Key:                       Key(pk, sk),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       conditionOf(expr),
		ExpressionAttributeNames:  namesOf(expr),
		ExpressionAttributeValues: valuesOf(expr),
	}
	if out != nil {
		in.ReturnValues = types.ReturnValueAllNew
	}
	res, err := db.API.UpdateItem(ctx, in)
	if err != nil {
		return err
	}
	if out != nil {
		if err := attributevalue.UnmarshalMap(res.Attributes, out); err != nil {
			return fmt.Errorf("unmarshal %s/%s: %w", pk, sk, err)
		}
	}
	return nil
}

func (db *DB) Delete(ctx context.Context, pk, sk string, cond *expression.ConditionBuilder) error {
	expr, err := buildExpr(nil, cond)
	if err != nil {
		return err
	}
	_, err = db.API.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(db.Table),
		Key:                       Key(pk, sk),
		ConditionExpression:       conditionOf(expr),
		ExpressionAttributeNames:  namesOf(expr),
		ExpressionAttributeValues: valuesOf(expr),
	})
	return err
}

const batchWriteLimit = 25

// DeleteKeys removes items in batches of 25, resubmitting unprocessed keys.
func (db *DB) DeleteKeys(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for start := 0; start < len(keys); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(keys) {
			end = len(keys)
		}
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
		}
		pending := map[string][]types.WriteRequest{db.Table: reqs}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt >= 5 {
				return fmt.Errorf("batch delete: unprocessed items after %d attempts", attempt)
			}
			res, err := db.API.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("batch delete: %w", err)
			}
			pending = res.UnprocessedItems
		}
	}
	return nil
}

// KeyOf extracts the primary key of a raw item.
func KeyOf(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{AttrPK: item[AttrPK], AttrSK: item[AttrSK]}
}
