// Package wakeword listens for a spoken wake phrase while no call is in
// progress. A Gate samples rolling audio windows from a source and
// forwards them to a Detector; when the detected phrase matches the
// configured word (or a close variant) with enough confidence, it fires
// a single wake event and latches until re-armed.
package wakeword

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/voxhollow/voicecall/internal/httpc"
)

// Detection is one detector verdict for an audio window.
type Detection struct {
	// Word is the phrase the detector heard, empty when nothing was
	// recognized.
	Word string `json:"word"`

	// Confidence is the detector's score in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Detector scores one audio window for wake phrases. Window bytes are
// PCM16 little-endian at the gate's capture format.
type Detector interface {
	Detect(ctx context.Context, window []byte) (Detection, error)
}

// HTTPDetector sends audio windows to a detection backend over HTTP.
// The backend accepts raw PCM in the request body and answers with a
// Detection JSON object.
type HTTPDetector struct {
	endpoint   string
	sampleRate int
	channels   int
}

// NewHTTPDetector creates a detector posting to the given endpoint.
// The sample rate and channel count describe the PCM windows and are
// passed along as request headers.
func NewHTTPDetector(endpoint string, sampleRate, channels int) *HTTPDetector {
	return &HTTPDetector{
		endpoint:   endpoint,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Detect posts the window and parses the backend verdict.
func (d *HTTPDetector) Detect(ctx context.Context, window []byte) (Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(window))
	if err != nil {
		return Detection{}, fmt.Errorf("building detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", fmt.Sprintf("%d", d.sampleRate))
	req.Header.Set("X-Channels", fmt.Sprintf("%d", d.channels))

	resp, err := httpc.Do(req)
	if err != nil {
		return Detection{}, fmt.Errorf("posting detect window: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Detection{}, fmt.Errorf("detect backend returned %d: %s", resp.StatusCode, string(body))
	}

	var det Detection
	if err := json.NewDecoder(resp.Body).Decode(&det); err != nil {
		return Detection{}, fmt.Errorf("decoding detect response: %w", err)
	}
	return det, nil
}

var _ Detector = (*HTTPDetector)(nil)
