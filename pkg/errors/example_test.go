package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/finlake/pkg/errors"
)

// Example demonstrates basic error creation.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "failed to reach api.bcb.gov.br").
		WithDetail("source", "bcb").
		WithDetail("attempt", 2)

	fmt.Println(err.Error())

	// Output:
	// connection: failed to reach api.bcb.gov.br
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.EOF, errors.ErrorTypeFile, "failed to read manifest")

	if errors.IsType(err, errors.ErrorTypeFile) {
		fmt.Println("file error")
	}
	if errors.Is(err, io.EOF) {
		fmt.Println("caused by EOF")
	}

	// Output:
	// file error
	// caused by EOF
}

// ExampleIsRetryable demonstrates classification of transient failures.
func ExampleIsRetryable() {
	throttled := errors.New(errors.ErrorTypeRateLimit, "429 Too Many Requests")
	badGateway := errors.New(errors.ErrorTypeHTTP, "502 Bad Gateway").WithDetail("status", 502)
	notFound := errors.New(errors.ErrorTypeHTTP, "404 Not Found").WithDetail("status", 404)

	fmt.Println(errors.IsRetryable(throttled))
	fmt.Println(errors.IsRetryable(badGateway))
	fmt.Println(errors.IsRetryable(notFound))
	fmt.Println(errors.Wrap(nil, errors.ErrorTypeInternal, "noop") == nil)

	// Output:
	// true
	// true
	// false
	// true
}
