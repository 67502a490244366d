package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
)

// checkModels is the model list sent to the moderation service. The medical
// model is requested so its score can be shown to reviewers, but it has no
// threshold and never flags.
const checkModels = "nudity-2.1,weapon,alcohol,recreational_drug,medical,offensive-2.0,gore-2.0,violence,self-harm,gambling"

// DefaultThresholds maps each flaggable category to the minimum probability
// at which it is flagged.
var DefaultThresholds = map[string]float64{
	"nudity":    0.70,
	"weapon":    0.70,
	"alcohol":   0.80,
	"drugs":     0.80,
	"offensive": 0.70,
	"violence":  0.70,
	"self_harm": 0.90,
	"gambling":  0.80,
}

// ErrUnavailable is returned when the moderation service cannot be reached or
// answers with a non-OK status. Submissions must not be persisted when
// analysis fails with this error.
var ErrUnavailable = fmt.Errorf("moderation service unavailable")

// Result is the outcome of analyzing one media payload.
type Result struct {
	// Scores holds the per-category probabilities. A category the service
	// did not score is absent and treated as 0.
	Scores map[string]float64
	// Flagged lists the categories whose score met or exceeded the threshold.
	Flagged []string
	// RedactedURL points at the redacted variant produced by the same call,
	// empty when none was requested or none was produced.
	RedactedURL string
	// Raw is the unparsed service response, kept as the opaque analysis blob.
	Raw json.RawMessage
}

// Detected reports whether any category was flagged.
func (r *Result) Detected() bool {
	return len(r.Flagged) > 0
}

// Client calls the content moderation service.
type Client struct {
	endpoint   string
	apiUser    string
	apiSecret  string
	httpClient *http.Client
}

// NewClient creates a moderation client. The timeout bounds every Analyze call.
func NewClient(endpoint, apiUser, apiSecret string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   endpoint,
		apiUser:    apiUser,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// categoryScore is the per-category fragment of the service response.
type categoryScore struct {
	Prob float64 `json:"prob"`
}

// checkResponse is the subset of the service response the pipeline needs.
// The full body is kept in Result.Raw.
type checkResponse struct {
	Status    string        `json:"status"`
	Nudity    categoryScore `json:"nudity"`
	Weapon    categoryScore `json:"weapon"`
	Alcohol   categoryScore `json:"alcohol"`
	Drugs     categoryScore `json:"drugs"`
	Medical   categoryScore `json:"medical"`
	Offensive categoryScore `json:"offensive"`
	Violence  categoryScore `json:"violence"`
	SelfHarm  categoryScore `json:"self_harm"`
	Gambling  categoryScore `json:"gambling"`
	Image     struct {
		URL string `json:"url"`
	} `json:"image"`
}

// Analyze sends the media to the moderation service and evaluates the
// returned probabilities against the given thresholds. When
// requestRedactedVariant is set the service is asked to produce a redacted
// copy in the same round trip.
func (c *Client) Analyze(ctx context.Context, media []byte, mimeType string, thresholds map[string]float64, requestRedactedVariant bool) (*Result, error) {
	if thresholds == nil {
		thresholds = DefaultThresholds
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("media", "media")
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart field: %w", err)
	}
	if _, err := part.Write(media); err != nil {
		return nil, fmt.Errorf("failed to write media payload: %w", err)
	}
	if err := writer.WriteField("models", checkModels); err != nil {
		return nil, fmt.Errorf("failed to write models field: %w", err)
	}
	if requestRedactedVariant {
		if err := writer.WriteField("blur", "15"); err != nil {
			return nil, fmt.Errorf("failed to write blur field: %w", err)
		}
		if err := writer.WriteField("blur_types", "all"); err != nil {
			return nil, fmt.Errorf("failed to write blur_types field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	endpoint := c.endpoint
	if c.apiUser != "" || c.apiSecret != "" {
		params := url.Values{}
		params.Set("api_user", c.apiUser)
		params.Set("api_secret", c.apiSecret)
		endpoint = endpoint + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create moderation request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Error("Moderation request failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Errorf("Moderation service returned status %d: %s", resp.StatusCode, string(raw))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed checkResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}

	scores := map[string]float64{
		"nudity":    parsed.Nudity.Prob,
		"weapon":    parsed.Weapon.Prob,
		"alcohol":   parsed.Alcohol.Prob,
		"drugs":     parsed.Drugs.Prob,
		"medical":   parsed.Medical.Prob,
		"offensive": parsed.Offensive.Prob,
		"violence":  parsed.Violence.Prob,
		"self_harm": parsed.SelfHarm.Prob,
		"gambling":  parsed.Gambling.Prob,
	}

	flagged := []string{}
	for _, category := range flagOrder {
		threshold, ok := thresholds[category]
		if !ok {
			continue
		}
		if scores[category] >= threshold {
			flagged = append(flagged, category)
		}
	}

	result := &Result{
		Scores:      scores,
		Flagged:     flagged,
		RedactedURL: parsed.Image.URL,
		Raw:         raw,
	}
	if !requestRedactedVariant {
		result.RedactedURL = ""
	}
	return result, nil
}

// flagOrder fixes the iteration order over the threshold table so flagged
// category lists are stable across calls.
var flagOrder = []string{
	"nudity", "weapon", "alcohol", "drugs", "offensive", "violence", "self_harm", "gambling",
}
