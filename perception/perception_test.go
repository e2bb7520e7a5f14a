package perception

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func isBlack(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r == 0 && g == 0 && b == 0
}

func TestSlotLatestWins(t *testing.T) {
	s := NewSlot()
	a := solid(1, 1, color.White)
	b := solid(2, 2, color.White)
	s.Put(a)
	s.Put(b)

	f, fresh, err := s.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !fresh {
		t.Error("first read should be fresh")
	}
	if f.Seq != 2 {
		t.Errorf("Seq = %d, want 2", f.Seq)
	}
	if f.Image.Bounds().Dx() != 2 {
		t.Errorf("got older frame, width %d", f.Image.Bounds().Dx())
	}

	_, fresh, err = s.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if fresh {
		t.Error("second read of the same frame should not be fresh")
	}
}

func TestSlotBlocksUntilFirstFrame(t *testing.T) {
	s := NewSlot()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := s.Latest(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	got := make(chan uint64, 1)
	go func() {
		f, _, _ := s.Latest(context.Background())
		got <- f.Seq
	}()
	time.Sleep(10 * time.Millisecond)
	s.Put(solid(1, 1, color.White))
	select {
	case seq := <-got:
		if seq != 1 {
			t.Errorf("Seq = %d, want 1", seq)
		}
	case <-time.After(time.Second):
		t.Fatal("reader not released by first Put")
	}
}

func TestBlackout(t *testing.T) {
	img := solid(10, 10, color.White)
	out := Blackout(img, 3)

	if isBlack(out.At(5, 6)) {
		t.Error("row 6 should be untouched")
	}
	for y := 7; y < 10; y++ {
		if !isBlack(out.At(5, y)) {
			t.Errorf("row %d should be black", y)
		}
	}
	if isBlack(img.At(5, 9)) {
		t.Error("Blackout modified its input")
	}

	all := Blackout(img, 50)
	if !isBlack(all.At(0, 0)) {
		t.Error("oversized blackout should cover the whole frame")
	}
	none := Blackout(img, 0)
	if isBlack(none.At(5, 9)) {
		t.Error("zero rows should leave the frame intact")
	}
}

func TestResize(t *testing.T) {
	img := solid(640, 480, color.White)
	out := Resize(img, 400)
	if b := out.Bounds(); b.Dx() != 400 || b.Dy() != 300 {
		t.Errorf("bounds = %v, want 400x300", b)
	}
	if Resize(img, 0) != image.Image(img) {
		t.Error("width 0 should return the input")
	}
	if Resize(img, 640) != image.Image(img) {
		t.Error("same width should return the input")
	}
}

func TestHTTPSourceDecodesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, solid(8, 6, color.White))
	}))
	defer srv.Close()

	img, err := NewHTTPSource(srv.URL, time.Second).Grab(context.Background())
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Errorf("bounds = %v, want 8x6", b)
	}
}

func TestHTTPSourceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no camera", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewHTTPSource(srv.URL, time.Second).Grab(context.Background()); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestHTTPDetectorUploadsAndFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "bad upload", http.StatusBadRequest)
			return
		}
		defer file.Close()
		img, err := jpeg.Decode(file)
		if err != nil {
			t.Errorf("upload is not a JPEG: %v", err)
		} else if img.Bounds().Dx() != 64 {
			t.Errorf("uploaded width = %d, want 64", img.Bounds().Dx())
		}
		json.NewEncoder(w).Encode(map[string]any{
			"boxes": []BoundingBox{
				{XMin: 10, YMin: 10, XMax: 20, YMax: 30, Confidence: 0.9, Label: "bottle"},
				{XMin: 1, YMin: 1, XMax: 2, YMax: 2, Confidence: 0.5, Label: "bottle"},
				{XMin: 5, YMin: 5, XMax: 9, YMax: 9, Confidence: 0.95, Label: "cup"},
			},
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, DetectorOptions{MinConfidence: 0.7, Labels: []string{"bottle"}})
	res, err := d.Detect(context.Background(), solid(64, 48, color.White))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.FrameWidth != 64 || res.FrameHeight != 48 {
		t.Errorf("frame = %dx%d, want 64x48", res.FrameWidth, res.FrameHeight)
	}
	if len(res.Boxes) != 1 {
		t.Fatalf("len(Boxes) = %d, want 1", len(res.Boxes))
	}
	if res.Boxes[0].YMax != 30 {
		t.Errorf("YMax = %v, want 30", res.Boxes[0].YMax)
	}
}

func TestHTTPDetectorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, DetectorOptions{})
	if _, err := d.Detect(context.Background(), solid(4, 4, color.White)); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

type countingSource struct {
	calls atomic.Int32
	fail  bool
}

func (s *countingSource) Grab(ctx context.Context) (image.Image, error) {
	s.calls.Add(1)
	if s.fail {
		return nil, errors.New("camera offline")
	}
	return solid(80, 60, color.White), nil
}

func TestGrabberPreprocessesIntoSlot(t *testing.T) {
	src := &countingSource{}
	slot := NewSlot()
	g := NewGrabber(src, slot, GrabberConfig{Interval: 5 * time.Millisecond, Blackout: 6, Width: 40})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
	defer rcancel()
	f, _, err := slot.Latest(rctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if b := f.Image.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("bounds = %v, want 40x30", b)
	}
	if !isBlack(f.Image.At(20, 29)) {
		t.Error("bottom row should be masked")
	}
	if isBlack(f.Image.At(20, 5)) {
		t.Error("top rows should be untouched")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("grabber did not stop")
	}
}

func TestGrabberSurvivesSourceErrors(t *testing.T) {
	src := &countingSource{fail: true}
	slot := NewSlot()
	g := NewGrabber(src, slot, GrabberConfig{Interval: 2 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := g.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if src.calls.Load() < 2 {
		t.Errorf("calls = %d, want retries", src.calls.Load())
	}
	select {
	case <-slot.ready:
		t.Error("failed grabs should not publish a frame")
	default:
	}
}
