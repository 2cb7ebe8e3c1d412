// Package oracle implements the market-data collaborators: token prices and
// market snapshots from DexScreener, and token supply from a Solana RPC node.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/walletmonitor/signal-engine/internal/retry"
)

const userAgent = "Mozilla/5.0 (compatible; signal-engine)"

// statusError is a non-2xx HTTP response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// retryable reports whether a response status is worth another attempt.
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// doJSON runs req under policy and decodes a 200 response body into out.
// Network failures, 429 and 5xx are retried; other statuses and decode
// failures are not.
func doJSON(ctx context.Context, client *http.Client, policy retry.Policy, newReq func(context.Context) (*http.Request, error), out any) error {
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		req, err := newReq(ctx)
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			serr := &statusError{code: resp.StatusCode, body: truncate(string(body), 256)}
			if retryable(resp.StatusCode) {
				return serr
			}
			return retry.Permanent(serr)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}

// StatusCode extracts the HTTP status from an oracle error, or 0.
func StatusCode(err error) int {
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.code
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
