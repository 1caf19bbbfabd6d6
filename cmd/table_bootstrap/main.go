package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/envutil"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

func main() {
	var table, region, endpoint string
	var timeout time.Duration
	flag.StringVar(&table, "table", envutil.String("TABLE_NAME", "questline"), "DynamoDB table name")
	flag.StringVar(&region, "region", envutil.String("AWS_REGION", "us-east-1"), "AWS region")
	flag.StringVar(&endpoint, "endpoint", envutil.String("DYNAMODB_ENDPOINT", ""), "DynamoDB endpoint override (local development)")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for the table to become active")
	flag.Parse()

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := dynamo.NewClient(ctx, log, dynamo.Config{Table: table, Region: region, Endpoint: endpoint})
	if err != nil {
		fmt.Printf("init dynamodb: %v\n", err)
		os.Exit(1)
	}
	created, err := dynamo.EnsureTable(ctx, client, table)
	if err != nil {
		fmt.Printf("ensure table %s: %v\n", table, err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("created table %s\n", table)
		return
	}
	fmt.Printf("table %s already exists\n", table)
}
