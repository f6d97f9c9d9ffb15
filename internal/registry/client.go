// Package registry implements the HTTP client the poller uses to fetch the
// current fleet snapshot batch.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetwatch/fleetwatch/internal/models"
)

const (
	fetchTimeout = 10 * time.Second
	maxBodyBytes = 16 << 20
)

// Client fetches VM snapshots from the registry service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the registry at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: fetchTimeout},
	}
}

// FetchVMs returns the current snapshot batch in registry order. A transport
// error, non-2xx status, or unparseable body is returned as an error and means
// "no update this cycle" to the caller; it never implies any VM is offline.
// Individual malformed records are skipped so one bad row cannot poison the
// rest of the batch.
func (c *Client) FetchVMs(ctx context.Context) ([]models.VMSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/vms", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse registry response: %w", err)
	}

	vms := make([]models.VMSnapshot, 0, len(raw))
	for i, msg := range raw {
		var vm models.VMSnapshot
		if err := json.Unmarshal(msg, &vm); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Skipping malformed VM record")
			continue
		}
		if vm.ID == "" {
			log.Warn().Int("index", i).Msg("Skipping VM record without id")
			continue
		}
		vms = append(vms, vm)
	}
	return vms, nil
}
