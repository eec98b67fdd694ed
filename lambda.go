package dynaquery

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/pay-theory/dynaquery/pkg/session"
)

// lambdaCleanupBuffer is kept free at the end of an invocation for the response
const lambdaCleanupBuffer = time.Second

// IsLambdaEnvironment detects if running in AWS Lambda
func IsLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// GetLambdaMemoryMB returns the allocated memory in MB
func GetLambdaMemoryMB() int {
	memStr := os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")
	if memStr == "" {
		return 0
	}

	mem, err := strconv.Atoi(memStr)
	if err != nil {
		return 0
	}
	return mem
}

// LambdaMaxConcurrency sizes the batch pool from the function's memory
func LambdaMaxConcurrency() int {
	switch mem := GetLambdaMemoryMB(); {
	case mem == 0:
		return 0
	case mem <= 512:
		return 2
	case mem <= 1024:
		return 4
	default:
		return 8
	}
}

// LambdaSessionConfig returns the session configuration for a Lambda
// invocation: region from AWS_REGION, optional DYNAQUERY_ENDPOINT override
func LambdaSessionConfig() *session.Config {
	cfg := session.DefaultConfig()
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Region = region
	}
	cfg.Endpoint = os.Getenv("DYNAQUERY_ENDPOINT")
	return cfg
}

// WithLambdaTimeout returns a context that ends one second before the
// invocation deadline. Without a deadline ctx is returned as is.
func WithLambdaTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline.Add(-lambdaCleanupBuffer))
}

// GetRemainingTimeMillis returns milliseconds until Lambda timeout
func GetRemainingTimeMillis(ctx context.Context) int64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return -1
	}
	return time.Until(deadline).Milliseconds()
}
