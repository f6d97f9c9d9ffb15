// Package notifications carries critical-state alerts to operators: the
// dashboard side posts to the relay service, and the relay delivers email.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// AlertMessage is the payload handed to the notification sender for one
// critical VM.
type AlertMessage struct {
	VMName         string  `json:"vmName"`
	CPU            float64 `json:"cpu"`
	Memory         float64 `json:"memory"`
	Disk           float64 `json:"disk"`
	RecipientEmail string  `json:"recipientEmail"`
}

// Sender attempts best-effort delivery of one alert. Failure is reported so
// the caller can leave notification pacing untouched and retry next cycle.
type Sender interface {
	Send(ctx context.Context, msg AlertMessage) error
}

const sendTimeout = 10 * time.Second

// RelayClient posts alerts to the email relay's /send-alert endpoint.
type RelayClient struct {
	baseURL string
	http    *http.Client
}

// NewRelayClient builds a sender for the relay at baseURL.
func NewRelayClient(baseURL string) *RelayClient {
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: sendTimeout},
	}
}

// Send delivers the alert through the relay. The poll cycle must never hang on
// delivery, so the request carries both the client timeout and ctx; a timeout
// counts as failure.
func (c *RelayClient) Send(ctx context.Context, msg AlertMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send-alert", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	log.Debug().Str("vm", msg.VMName).Msg("Alert relayed")
	return nil
}
