// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nomination-workers/internal/common/config"
	apperrors "nomination-workers/internal/common/errors"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Client owns the gateway connection shared by every job worker.
type Client struct {
	client      zbc.Client
	dialTimeout time.Duration
	backoff     Backoff
}

// Backoff bounds the retries of a gateway call.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultBackoff retries a call three times, from one second up to ten.
var DefaultBackoff = Backoff{Attempts: 3, Base: time.Second, Max: 10 * time.Second}

// delay returns the wait before retry n (0-based).
func (b Backoff) delay(n int) time.Duration {
	d := b.Base << n
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}

// NewClient connects to the broker configured in cfg and checks its topology.
func NewClient(ctx context.Context, cfg config.CamundaConfig) (*Client, error) {
	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.BrokerAddress,
		UsePlaintextConnection: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	c := &Client{
		client:      zeebeClient,
		dialTimeout: 10 * time.Second,
		backoff:     DefaultBackoff,
	}
	if cfg.RequestTimeout > 0 {
		c.dialTimeout = config.GetDuration(cfg.RequestTimeout)
	}

	if err := retry(ctx, c.backoff, "topology", c.topology); err != nil {
		zeebeClient.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", cfg.BrokerAddress, err)
	}
	return c, nil
}

// GetClient returns the raw Zeebe client used to open job workers.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// HealthCheck asks the gateway for the cluster topology once.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.topology(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}

func (c *Client) topology(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	_, err := c.client.NewTopologyCommand().Send(ctx)
	return err
}

// retry runs call until it succeeds, fails with a permanent error or runs out
// of attempts. The returned error is a StandardError.
func retry(ctx context.Context, b Backoff, operation string, call func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= b.Attempts {
			return mapGatewayError(err, operation, attempt)
		}

		select {
		case <-time.After(b.delay(attempt)):
		case <-ctx.Done():
			return apperrors.NewTimeoutError("zeebe",
				fmt.Errorf("%s cancelled after %d attempts: %w", operation, attempt+1, ctx.Err()))
		}
	}
}

var transientPhrases = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"unavailable",
	"unreachable",
	"broken pipe",
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// mapGatewayError classifies a gateway failure by its message.
func mapGatewayError(err error, operation string, attempt int) error {
	msg := err.Error()
	lower := strings.ToLower(msg)

	summary := fmt.Sprintf("Zeebe operation '%s' failed", operation)
	if attempt > 0 {
		summary += fmt.Sprintf(" after %d attempts", attempt+1)
	}
	wrapped := fmt.Errorf("%s: %s", summary, msg)

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return apperrors.NewTimeoutError("zeebe", wrapped)
	case strings.Contains(lower, "not found"):
		return apperrors.NewResourceNotFoundError("zeebe", wrapped.Error())
	case strings.Contains(lower, "already exists"):
		return apperrors.NewBusinessRuleError(wrapped.Error(), "Resource already exists")
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "unauthorized"):
		return apperrors.NewAuthenticationError(wrapped.Error())
	default:
		return apperrors.NewExternalServiceError("zeebe", wrapped)
	}
}
