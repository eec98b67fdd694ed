package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/pay-theory/dynaquery"
	"github.com/pay-theory/dynaquery/pkg/log"
	"github.com/pay-theory/dynaquery/pkg/schema"
	"github.com/pay-theory/dynaquery/pkg/session"
)

func main() {
	logger, err := log.New(os.Getenv("DYNAQUERY_VERBOSE") == "true")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	// Created once per container and reused across invocations
	sess, err := session.NewSession(context.Background(), dynaquery.LambdaSessionConfig())
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	ddb, err := sess.Client()
	if err != nil {
		logger.Error("failed to create dynamodb client", "error", err)
		os.Exit(1)
	}

	h := NewHandler(ddb, schema.NewManager(ddb, schema.WithLogger(logger)),
		WithConfigPath(os.Getenv("DYNAQUERY_CONFIG")),
		WithHandlerLogger(logger),
	)
	lambda.Start(h.Handle)
}
