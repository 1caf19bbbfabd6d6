package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

var errMissingEndpoint = errors.New("missing TEST_DYNAMODB_ENDPOINT")

var (
	dbOnce sync.Once
	db     *dynamo.DB
	dbErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB connects to DynamoDB Local and creates a throwaway table per test binary.
func DB(tb testing.TB) *dynamo.DB {
	tb.Helper()

	dbOnce.Do(func() {
		endpoint := os.Getenv("TEST_DYNAMODB_ENDPOINT")
		if endpoint == "" {
			dbErr = errMissingEndpoint
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		table := fmt.Sprintf("questline-test-%s", uuid.NewString()[:8])
		client, err := dynamo.NewClient(ctx, nil, dynamo.Config{
			Table:    table,
			Region:   "us-east-1",
			Endpoint: endpoint,
		})
		if err != nil {
			dbErr = err
			return
		}
		if _, err := dynamo.EnsureTable(ctx, client, table); err != nil {
			dbErr = err
			return
		}
		db = dynamo.NewDB(client, table)
	})

	if errors.Is(dbErr, errMissingEndpoint) {
		tb.Skip("set TEST_DYNAMODB_ENDPOINT to run repo integration tests")
	}
	if dbErr != nil {
		tb.Fatalf("failed to init test table: %v", dbErr)
	}
	return db
}
