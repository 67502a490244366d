package redaction

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"civicwatch/moderation"
)

func TestDecideUsesOriginalWithoutRedaction(t *testing.T) {
	original := []byte("original")
	coordinator := NewCoordinator(time.Second)

	testCases := []struct {
		name       string
		result     *moderation.Result
		autoRedact bool
	}{
		{
			name:       "auto redaction disabled",
			result:     &moderation.Result{Flagged: []string{"weapon"}, RedactedURL: "https://example.com/v.jpg"},
			autoRedact: false,
		},
		{
			name:       "nothing flagged",
			result:     &moderation.Result{Flagged: []string{}, RedactedURL: "https://example.com/v.jpg"},
			autoRedact: true,
		},
		{
			name:       "no variant reference returned",
			result:     &moderation.Result{Flagged: []string{"weapon"}},
			autoRedact: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, blurred := coordinator.Decide(context.Background(), tc.result, tc.autoRedact, original)
			if !bytes.Equal(got, original) {
				t.Errorf("bytes = %q, want original", got)
			}
			if blurred {
				t.Error("blurred = true, want false")
			}
		})
	}
}

func TestDecideFetchesRedactedVariant(t *testing.T) {
	redacted := []byte("redacted-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(redacted)
	}))
	defer server.Close()

	coordinator := NewCoordinator(time.Second)
	result := &moderation.Result{Flagged: []string{"weapon"}, RedactedURL: server.URL}

	got, blurred := coordinator.Decide(context.Background(), result, true, []byte("original"))
	if !bytes.Equal(got, redacted) {
		t.Errorf("bytes = %q, want redacted variant", got)
	}
	if !blurred {
		t.Error("blurred = false, want true")
	}
}

func TestDecideDegradesOnFetchFailure(t *testing.T) {
	original := []byte("original")
	coordinator := NewCoordinator(time.Second)

	t.Run("variant endpoint errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		result := &moderation.Result{Flagged: []string{"weapon"}, RedactedURL: server.URL}
		got, blurred := coordinator.Decide(context.Background(), result, true, original)
		if !bytes.Equal(got, original) || blurred {
			t.Errorf("Decide = (%q, %v), want original unblurred", got, blurred)
		}
	})

	t.Run("variant endpoint unreachable", func(t *testing.T) {
		result := &moderation.Result{Flagged: []string{"weapon"}, RedactedURL: "http://127.0.0.1:1/v.jpg"}
		got, blurred := coordinator.Decide(context.Background(), result, true, original)
		if !bytes.Equal(got, original) || blurred {
			t.Errorf("Decide = (%q, %v), want original unblurred", got, blurred)
		}
	})
}
