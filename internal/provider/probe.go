package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/pulselabs/pulse/internal/model"
)

// DefaultProbeTimeout is the hard deadline for connection test calls. It is
// deliberately shorter than a user-facing call.
const DefaultProbeTimeout = 10 * time.Second

// Probe performs a minimal one-token completion against the provider to
// verify the credential works. The call races a hard timer; if the timer
// wins, a distinct timeout error is returned rather than the provider error.
func Probe(ctx context.Context, a Adapter, secret, modelName string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	one := 1
	req := &InvokeRequest{
		Model:     modelName,
		Messages:  []model.Message{{Role: "user", Content: "ping"}},
		MaxTokens: &one,
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.Invoke(ctx, secret, req)
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return model.NewGatewayError(model.ErrTimeout,
			fmt.Sprintf("%s connection test timed out after %s", a.Name(), timeout))
	}
}
