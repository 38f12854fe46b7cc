// Package errors provides examples of structured error handling in kafkacl.
package errors_test

import (
	"fmt"
	"io"

	"github.com/canonical/kafkacl/pkg/errors"
)

// Example demonstrates basic error creation with context details.
func Example() {
	err := errors.New(errors.ErrorTypeConfig, "no connect endpoints available").
		WithDetail("relation_id", 7)

	fmt.Println(err.Error())

	// Output:
	// config: no connect endpoints available
}

// ExampleWrap shows how transport failures are wrapped for the caller.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeConnection, "connect API call /connectors failed")

	if errors.IsAPI(err) {
		fmt.Println("mutating call failed")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("cause preserved")
	}

	// Output:
	// mutating call failed
	// cause preserved
}

// ExampleNewAPIError demonstrates reading the status code and body back.
func ExampleNewAPIError() {
	err := errors.NewAPIError("unable to patch the connector", 500, []byte(`{"message":"boom"}`))

	code, _ := errors.StatusCode(err)
	fmt.Println(code)
	fmt.Println(errors.Body(err))

	// Output:
	// 500
	// {"message":"boom"}
}
