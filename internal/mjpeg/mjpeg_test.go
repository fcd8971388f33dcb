package mjpeg

import (
	"bytes"
	"context"
	"image/jpeg"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPlaceholderIsJPEG(t *testing.T) {
	data, err := Placeholder("Monitoring stopped")
	if err != nil {
		t.Fatalf("placeholder: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != frameWidth || b.Dy() != frameHeight {
		t.Fatalf("bounds = %v", b)
	}
}

func TestStreamWritesFramesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()

	sent := 0
	provider := func() ([]byte, bool) {
		sent++
		if sent >= 3 {
			cancel()
		}
		return []byte("jpeg"), true
	}

	done := make(chan struct{})
	go func() {
		Stream(ctx, rec, time.Millisecond, []byte("blank"), provider)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop")
	}

	if got := rec.Header().Get("Content-Type"); got != ContentType {
		t.Fatalf("content-type = %q", got)
	}
	if n := strings.Count(rec.Body.String(), "--frame\r\n"); n != 3 {
		t.Fatalf("frames written = %d, want 3", n)
	}
}

func TestSingle(t *testing.T) {
	rec := httptest.NewRecorder()
	Single(rec, []byte("jpeg"))
	body := rec.Body.String()
	if !strings.Contains(body, "Content-Length: 4") || !strings.HasSuffix(body, "--frame--\r\n") {
		t.Fatalf("unexpected body %q", body)
	}
}
