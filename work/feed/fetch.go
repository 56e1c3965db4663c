package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chanrelay/work/buffer"
	"chanrelay/work/client"
	"chanrelay/work/types"
)

// maxDocumentSize bounds how much of a feed body is read.
var maxDocumentSize int64 = 64 << 20

var fetchBuffers = buffer.NewBufferPool(64 * 1024)

// Fetch downloads a feed document. The request is bounded by timeout; any
// non-2xx status is an error.
func Fetch(ctx context.Context, hc *client.HeaderSettingClient, feedURL string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := hc.Get(ctx, feedURL, types.Headers{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}

	data, err := fetchBuffers.ReadAll(resp.Body, maxDocumentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	return data, nil
}

// Load fetches and decodes a feed in one step.
func Load(ctx context.Context, hc *client.HeaderSettingClient, feedURL string, timeout time.Duration) (*Payload, error) {
	data, err := Fetch(ctx, hc, feedURL, timeout)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
