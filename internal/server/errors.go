package server

import (
	"errors"
	"fmt"

	"example.com/lanserve/internal/dualstack"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitUsage        = -1
	ExitDirectory    = -2
	ExitServerError  = 2
	ExitRuntimeFault = -3
)

// RuntimeFault is an unrecovered panic raised while handling a request.
type RuntimeFault struct {
	Stack dualstack.Stack
	Value interface{}
	Trace []byte
}

func (f *RuntimeFault) Error() string {
	return fmt.Sprintf("uncaught exception on %s stack: %v", f.Stack, f.Value)
}

// Unwrap exposes the panic value when it is an error.
func (f *RuntimeFault) Unwrap() error {
	err, _ := f.Value.(error)
	return err
}

// ExitCode maps the error returned by Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var fault *RuntimeFault
	if errors.As(err, &fault) {
		return ExitRuntimeFault
	}
	return ExitServerError
}
