package mjpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/safety-monitor/internal/logger"
)

const (
	// ContentType is the multipart type used for browser MJPEG streams.
	ContentType = "multipart/x-mixed-replace; boundary=frame"

	frameWidth  = 640
	frameHeight = 480
)

var log = logger.For("MJPEG")

// Placeholder renders colour bars with label centred on a dark band.
func Placeholder(label string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))

	// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := frameWidth / len(colors)
	for i, c := range colors {
		bar := image.Rect(i*barWidth, 0, (i+1)*barWidth, frameHeight)
		draw.Draw(img, bar, image.NewUniform(c), image.Point{}, draw.Src)
	}

	if label != "" {
		face := basicfont.Face7x13
		band := image.Rect(0, frameHeight/2-20, frameWidth, frameHeight/2+20)
		draw.Draw(img, band, image.NewUniform(color.RGBA{A: 220}), image.Point{}, draw.Over)

		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.White),
			Face: face,
		}
		width := d.MeasureString(label).Round()
		x := (frameWidth - width) / 2
		if x < 4 {
			x = 4
		}
		d.Dot = fixed.P(x, frameHeight/2+face.Ascent/2)
		d.DrawString(label)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Provider returns the next frame, or false to repeat the fallback frame.
type Provider func() ([]byte, bool)

// WriteFrame writes one multipart part.
func WriteFrame(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// Stream writes frames every interval until ctx ends or the client goes away.
// fallback is sent whenever provider has nothing new.
func Stream(ctx context.Context, w http.ResponseWriter, interval time.Duration, fallback []byte, provider Provider) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		frame := fallback
		if provider != nil {
			if data, ok := provider(); ok {
				frame = data
			}
		}

		if err := WriteFrame(w, frame); err != nil {
			log.Debug("Client disconnected during write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Single answers with a stream holding one frame, then ends it.
func Single(w http.ResponseWriter, frame []byte) {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	if err := WriteFrame(w, frame); err != nil {
		log.Debug("Client disconnected during write: %v", err)
		return
	}
	_, _ = w.Write([]byte("--frame--\r\n"))
}
