package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (DetectionResult, error)
}

// HTTPDetector posts frames to an external inference service as a
// multipart JPEG upload and parses {"boxes": [...]}.
type HTTPDetector struct {
	url           string
	client        *http.Client
	minConfidence float64
	labels        map[string]struct{}
}

// DetectorOptions configures an HTTPDetector.
type DetectorOptions struct {
	Timeout       time.Duration
	MinConfidence float64
	// Labels, when non-empty, keeps only boxes with these labels.
	Labels []string
}

// NewHTTPDetector creates a detector client for url.
func NewHTTPDetector(url string, opts DetectorOptions) *HTTPDetector {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	d := &HTTPDetector{
		url:           url,
		client:        &http.Client{Timeout: opts.Timeout},
		minConfidence: opts.MinConfidence,
	}
	if len(opts.Labels) > 0 {
		d.labels = make(map[string]struct{}, len(opts.Labels))
		for _, l := range opts.Labels {
			d.labels[l] = struct{}{}
		}
	}
	return d
}

func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) (DetectionResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return DetectionResult{}, fmt.Errorf("create form file: %w", err)
	}
	if err := jpeg.Encode(part, img, &jpeg.Options{Quality: 85}); err != nil {
		return DetectionResult{}, fmt.Errorf("encode frame: %w", err)
	}
	if err := writer.Close(); err != nil {
		return DetectionResult{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return DetectionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return DetectionResult{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return DetectionResult{}, fmt.Errorf("inference failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Boxes []BoundingBox `json:"boxes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return DetectionResult{}, fmt.Errorf("decode response: %w", err)
	}

	b := img.Bounds()
	return DetectionResult{
		FrameWidth:  b.Dx(),
		FrameHeight: b.Dy(),
		Boxes:       d.filter(result.Boxes),
	}, nil
}

func (d *HTTPDetector) filter(boxes []BoundingBox) []BoundingBox {
	out := make([]BoundingBox, 0, len(boxes))
	for _, box := range boxes {
		if box.Confidence < d.minConfidence {
			continue
		}
		if d.labels != nil {
			if _, ok := d.labels[box.Label]; !ok {
				continue
			}
		}
		out = append(out, box)
	}
	return out
}
