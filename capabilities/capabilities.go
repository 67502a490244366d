// Package capabilities declares the narrow interfaces through which the
// report submission core sees its frontend collaborators. The core itself
// never calls these; it consumes only validated field values produced by
// them.
package capabilities

import "context"

// Coordinates is a geographic point.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// GeocodingService resolves between addresses and coordinates for the
// submission form.
type GeocodingService interface {
	ReverseGeocode(ctx context.Context, c Coordinates) (address string, err error)
	SearchPlace(ctx context.Context, query string) (Coordinates, string, error)
}

// SpeechCaptureService turns spoken input into description text.
type SpeechCaptureService interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// MapRenderer displays a map with a draggable marker and reports the chosen
// position back to the form.
type MapRenderer interface {
	Render(center Coordinates, onSelect func(Coordinates))
}
