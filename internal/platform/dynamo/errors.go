package dynamo

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Cancellation reason codes reported per item by TransactWriteItems.
const (
	ReasonNone                   = "None"
	ReasonConditionalCheckFailed = "ConditionalCheckFailed"
	ReasonTransactionConflict    = "TransactionConflict"
	ReasonThrottling             = "ThrottlingError"
	ReasonProvisionedThroughput  = "ProvisionedThroughputExceeded"
	ReasonItemCollectionSize     = "ItemCollectionSizeLimitExceeded"
	ReasonValidation             = "ValidationError"
)

func IsConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// CancellationReasons returns the per-item codes of a cancelled transaction,
// positionally aligned with the submitted items.
func CancellationReasons(err error) ([]string, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil, false
	}
	codes := make([]string, len(tce.CancellationReasons))
	for i, r := range tce.CancellationReasons {
		codes[i] = aws.ToString(r.Code)
		if codes[i] == "" {
			codes[i] = ReasonNone
		}
	}
	return codes, true
}

// ReasonAt is CancellationReasons()[i] with bounds checking.
func ReasonAt(codes []string, i int) string {
	if i < 0 || i >= len(codes) {
		return ""
	}
	return codes[i]
}

// IsRetryable reports contention and throttling errors that are worth another
// attempt. A cancelled transaction is retryable only when no item failed its
// condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if codes, ok := CancellationReasons(err); ok {
		retry := false
		for _, c := range codes {
			switch c {
			case ReasonConditionalCheckFailed, ReasonValidation, ReasonItemCollectionSize:
				return false
			case ReasonTransactionConflict, ReasonThrottling, ReasonProvisionedThroughput:
				retry = true
			}
		}
		return retry
	}
	var (
		conflict   *types.TransactionConflictException
		inProgress *types.TransactionInProgressException
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
	)
	switch {
	case errors.As(err, &conflict),
		errors.As(err, &inProgress),
		errors.As(err, &throughput),
		errors.As(err, &limit),
		errors.As(err, &internal):
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailable":
			return true
		}
	}
	return false
}

// IsTransactionUnsupported detects endpoints without transaction support
// (some emulators and proxies).
func IsTransactionUnsupported(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "UnknownOperationException", "NotImplemented", "UnsupportedOperation":
		return true
	}
	return false
}
