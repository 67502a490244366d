package moderation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func moderationServer(t *testing.T, body string, gotRequests *[]*http.Request) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			t.Errorf("failed to parse multipart request: %v", err)
		}
		if gotRequests != nil {
			*gotRequests = append(*gotRequests, r)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func TestAnalyzeFlagging(t *testing.T) {
	testCases := []struct {
		name        string
		body        string
		wantFlagged []string
		wantDetect  bool
	}{
		{
			name:        "nothing scored",
			body:        `{"status":"success"}`,
			wantFlagged: []string{},
			wantDetect:  false,
		},
		{
			name:        "below every threshold",
			body:        `{"status":"success","weapon":{"prob":0.69},"nudity":{"prob":0.5}}`,
			wantFlagged: []string{},
			wantDetect:  false,
		},
		{
			name:        "score exactly at threshold is flagged",
			body:        `{"status":"success","weapon":{"prob":0.70}}`,
			wantFlagged: []string{"weapon"},
			wantDetect:  true,
		},
		{
			name:        "score just below threshold is not flagged",
			body:        `{"status":"success","self_harm":{"prob":0.8999}}`,
			wantFlagged: []string{},
			wantDetect:  false,
		},
		{
			name:        "multiple categories above threshold",
			body:        `{"status":"success","weapon":{"prob":0.9},"drugs":{"prob":0.85},"gambling":{"prob":0.79}}`,
			wantFlagged: []string{"weapon", "drugs"},
			wantDetect:  true,
		},
		{
			name:        "medical never flags",
			body:        `{"status":"success","medical":{"prob":0.99}}`,
			wantFlagged: []string{},
			wantDetect:  false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := moderationServer(t, tc.body, nil)
			defer server.Close()

			client := NewClient(server.URL, "user", "secret", 5*time.Second)
			result, err := client.Analyze(context.Background(), []byte("img"), "image/jpeg", nil, false)
			if err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			if !reflect.DeepEqual(result.Flagged, tc.wantFlagged) {
				t.Errorf("Flagged = %v, want %v", result.Flagged, tc.wantFlagged)
			}
			if result.Detected() != tc.wantDetect {
				t.Errorf("Detected() = %v, want %v", result.Detected(), tc.wantDetect)
			}
		})
	}
}

func TestAnalyzeRequestsRedactedVariant(t *testing.T) {
	var requests []*http.Request
	server := moderationServer(t,
		`{"status":"success","weapon":{"prob":0.9},"image":{"url":"https://example.com/blurred.jpg"}}`,
		&requests)
	defer server.Close()

	client := NewClient(server.URL, "user", "secret", 5*time.Second)
	result, err := client.Analyze(context.Background(), []byte("img"), "image/jpeg", nil, true)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if result.RedactedURL != "https://example.com/blurred.jpg" {
		t.Errorf("RedactedURL = %q, want blurred variant URL", result.RedactedURL)
	}

	req := requests[0]
	if got := req.FormValue("blur"); got != "15" {
		t.Errorf("blur field = %q, want 15", got)
	}
	if got := req.FormValue("blur_types"); got != "all" {
		t.Errorf("blur_types field = %q, want all", got)
	}
	if got := req.FormValue("models"); got == "" {
		t.Error("models field missing from request")
	}
	if got := req.URL.Query().Get("api_user"); got != "user" {
		t.Errorf("api_user = %q, want user", got)
	}
}

func TestAnalyzeIgnoresVariantWhenNotRequested(t *testing.T) {
	server := moderationServer(t,
		`{"status":"success","image":{"url":"https://example.com/blurred.jpg"}}`, nil)
	defer server.Close()

	client := NewClient(server.URL, "user", "secret", 5*time.Second)
	result, err := client.Analyze(context.Background(), []byte("img"), "image/jpeg", nil, false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.RedactedURL != "" {
		t.Errorf("RedactedURL = %q, want empty when no variant requested", result.RedactedURL)
	}
}

func TestAnalyzeUnavailable(t *testing.T) {
	t.Run("server error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(server.URL, "user", "secret", 5*time.Second)
		_, err := client.Analyze(context.Background(), []byte("img"), "image/jpeg", nil, false)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1", "user", "secret", time.Second)
		_, err := client.Analyze(context.Background(), []byte("img"), "image/jpeg", nil, false)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestDefaultThresholdTable(t *testing.T) {
	want := map[string]float64{
		"nudity":    0.70,
		"weapon":    0.70,
		"alcohol":   0.80,
		"drugs":     0.80,
		"offensive": 0.70,
		"violence":  0.70,
		"self_harm": 0.90,
		"gambling":  0.80,
	}
	if !reflect.DeepEqual(DefaultThresholds, want) {
		t.Errorf("DefaultThresholds = %v, want %v", DefaultThresholds, want)
	}
	if _, ok := DefaultThresholds["medical"]; ok {
		t.Error("medical must not have a threshold")
	}
}
