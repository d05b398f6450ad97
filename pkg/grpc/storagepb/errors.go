package storagepb

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/bucketscan/pkg/store"
)

// ToStatus converts a store error into a gRPC status error
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrInvalidRequest):
		code = codes.InvalidArgument
	case errors.Is(err, store.ErrClosed):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

// FromStatus converts a gRPC status error back into the matching store error.
// Errors without a store equivalent keep their status so IsRetryable still works.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch s.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", store.ErrInvalidRequest, s.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", store.ErrClosed, s.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, s.Message())
	default:
		return err
	}
}
