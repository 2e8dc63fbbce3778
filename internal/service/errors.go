package service

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Timotej979/Model-executor-runtime/internal/store"
	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
	"github.com/Timotej979/Model-executor-runtime/pkg/driver"
)

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	var (
		spawnErr  *driver.SpawnError
		streamErr *driver.StreamError
		exitErr   *driver.ExitError
	)
	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case descriptor.IsConfigError(err):
		code = codes.InvalidArgument
	case errors.Is(err, driver.ErrAuthenticationFailed):
		code = codes.Unauthenticated
	case errors.Is(err, driver.ErrPathNotFound):
		code = codes.FailedPrecondition
	case errors.Is(err, driver.ErrReadyTimeout), errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.As(err, &spawnErr), errors.As(err, &streamErr), errors.As(err, &exitErr),
		errors.Is(err, driver.ErrSessionClosed), errors.Is(err, driver.ErrPayloadTooLarge):
		code = codes.Unavailable
	}
	return status.New(code, err.Error())
}
