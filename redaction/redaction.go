package redaction

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apex/log"

	"civicwatch/moderation"
)

// Coordinator decides whether a submission stores the redacted variant of its
// media instead of the original bytes.
type Coordinator struct {
	httpClient *http.Client
}

// NewCoordinator creates a coordinator. The timeout bounds the
// redacted-variant fetch.
func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Decide returns the bytes to upload and whether they are the redacted
// variant. The redacted variant is used only when auto-redaction is enabled,
// at least one category was flagged, and the moderation call produced a
// variant reference. A failed variant fetch falls back to the original bytes
// unblurred; it never fails the submission.
func (c *Coordinator) Decide(ctx context.Context, result *moderation.Result, autoRedactEnabled bool, original []byte) (bytesToUse []byte, blurred bool) {
	if !autoRedactEnabled || !result.Detected() || result.RedactedURL == "" {
		return original, false
	}

	redacted, err := c.fetch(ctx, result.RedactedURL)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch redacted variant, storing original unblurred")
		return original, false
	}
	return redacted, true
}

func (c *Coordinator) fetch(ctx context.Context, variantURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, variantURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create variant request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("variant fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("variant fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read variant body: %w", err)
	}
	return body, nil
}
