// Package errors provides examples of structured error handling in vload.
package errors_test

import (
	"fmt"
	"io"

	"github.com/vertica-tools/vload/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	// Create a new error with type
	err := errors.New(errors.ErrorTypeConnection, "failed to connect to node")

	// Add context details
	err = err.WithDetail("host", "vertica-01").
		WithDetail("port", 5433).
		WithDetail("database", "dwh")

	// Print the error
	fmt.Println(err.Error())

	// Output:
	// connection: failed to connect to node
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	// Simulate an underlying error
	originalErr := io.ErrClosedPipe

	// Wrap the error with context
	err := errors.Wrap(originalErr, errors.ErrorTypeExecutor, "bulk-copy statement failed").
		WithDetail("table", "staging.orders")

	// Check the error type
	if errors.IsExecutor(err) {
		fmt.Println("This is an executor error")
	}

	// Output:
	// This is an executor error
}

// ExampleIsRejectLimit demonstrates checking for a reject-limit breach.
func ExampleIsRejectLimit() {
	err := errors.Newf(errors.ErrorTypeRejectLimit, "%d rows rejected, limit is %d", 12, 10)

	if errors.IsRejectLimit(err) {
		fmt.Println("reject limit exceeded")
	}

	// Output:
	// reject limit exceeded
}
