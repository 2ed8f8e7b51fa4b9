package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/gatehits/pkg/errors"
)

// Example demonstrates basic error creation with a stage.
func Example() {
	err := errors.New(errors.ErrorTypeSchemaMismatch, "hit attributes do not match schema").
		WithStage(errors.StageAppend).
		WithDetail("worker", "w-3")

	fmt.Println(err.Error())
	fmt.Println(err.Stage())

	// Output:
	// schema_mismatch: hit attributes do not match schema
	// append
}

// ExampleWrap shows how a sink failure is wrapped and still matched by type.
func ExampleWrap() {
	err := errors.Wrap(io.ErrShortWrite, errors.ErrorTypeSink, "failed to write segment").
		WithStage(errors.StageFlush)

	outer := errors.Wrap(err, errors.ErrorTypeLifecycleOrder, "worker cannot continue")

	fmt.Println(errors.IsType(outer, errors.ErrorTypeSink))
	fmt.Println(errors.Is(outer, io.ErrShortWrite))
	fmt.Println(errors.TypeOf(outer))

	// Output:
	// true
	// true
	// lifecycle_order
}
