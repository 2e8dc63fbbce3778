package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"

	"github.com/Timotej979/Model-executor-runtime/internal/store"
	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
	"github.com/Timotej979/Model-executor-runtime/pkg/driver"
)

func TestToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", fmt.Errorf("%w: x", store.ErrNotFound), codes.NotFound},
		{"config", &descriptor.ConfigError{Key: "path", Reason: descriptor.ReasonMissing}, codes.InvalidArgument},
		{"config without reason", fmt.Errorf("spawn: %w", &descriptor.ConfigError{Detail: "nil descriptor"}), codes.InvalidArgument},
		{"unknown kind", &driver.UnknownKindError{Kind: "ftp"}, codes.InvalidArgument},
		{"auth", &driver.SpawnError{Kind: driver.SpawnAuthenticationFailed}, codes.Unauthenticated},
		{"path", &driver.SpawnError{Kind: driver.SpawnPathNotFound}, codes.FailedPrecondition},
		{"connect", &driver.SpawnError{Kind: driver.SpawnConnectFailed}, codes.Unavailable},
		{"exit", fmt.Errorf("wait ready: %w", &driver.ExitError{Code: 1, Err: driver.ErrExitedBeforeReady}), codes.Unavailable},
		{"ready timeout", driver.ErrReadyTimeout, codes.DeadlineExceeded},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, toStatus(tc.err).Code())
		})
	}
}
