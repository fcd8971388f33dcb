package dashboard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/dj-oyu/safety-monitor/internal/mjpeg"
)

// videoFeed is the console's video source. Activate opens a window in which
// /stream proxies the backend feed; Deactivate closes it and ends every
// proxied stream.
type videoFeed struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	url    string
}

func (v *videoFeed) Activate(streamURL string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.url = streamURL
}

func (v *videoFeed) Deactivate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
	}
	v.ctx, v.cancel = nil, nil
	v.url = ""
}

func (v *videoFeed) window() (context.Context, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ctx == nil {
		return nil, false
	}
	return v.ctx, true
}

func (v *videoFeed) close() {
	v.Deactivate()
}

// handleStream proxies the backend video feed for the session named by the
// epoch query parameter. Upstream failures are reported to the controller.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	epoch, _ := strconv.ParseUint(r.URL.Query().Get("epoch"), 10, 64)

	view := s.controller.View()
	feedCtx, open := s.video.window()
	if !view.Active || view.Epoch != epoch || !open {
		mjpeg.Single(w, s.stoppedFrame)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(feedCtx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.upstreamVideoURL, nil)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid video URL"}, http.StatusInternalServerError)
		return
	}

	resp, err := s.streamClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("Video upstream unreachable: %v", err)
			s.controller.OnVideoError(epoch)
		}
		writeJSONWithStatus(w, map[string]any{"error": "Video stream unavailable"}, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.log.Warn("Video upstream returned HTTP %d", resp.StatusCode)
		s.controller.OnVideoError(epoch)
		writeJSONWithStatus(w, map[string]any{"error": "Video stream unavailable"}, http.StatusBadGateway)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mjpeg.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	s.log.Debug("Proxying video for epoch %d", epoch)
	buf := make([]byte, 32<<10)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				s.log.Debug("Video client disconnected: %v", err)
				return
			}
			flusher.Flush()
		}
		if readErr != nil {
			// Ending because the viewer left or the session stopped is normal;
			// anything else means the upstream feed broke.
			if ctx.Err() == nil && !errors.Is(readErr, context.Canceled) {
				if readErr != io.EOF {
					s.log.Warn("Video upstream read failed: %v", readErr)
				} else {
					s.log.Warn("Video upstream ended the stream")
				}
				s.controller.OnVideoError(epoch)
			}
			return
		}
	}
}
