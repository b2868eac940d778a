package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, booth Booth, log EventLog, gallery GalleryView, playback PlaybackView) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: sub static fs: %w", err)
	}

	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, booth, log, gallery, playback, subFS),
	}, nil
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	h := s.handlers

	mux.HandleFunc("GET /slots", h.HandleSlots)
	mux.HandleFunc("POST /slots/reset", h.HandleResetAll)
	mux.HandleFunc("GET /slots/{i}", h.HandleSlot)
	mux.HandleFunc("POST /slots/{i}/capture", h.HandleCapture)
	mux.HandleFunc("POST /slots/{i}/next", h.HandleNext)
	mux.HandleFunc("POST /slots/{i}/prev", h.HandlePrev)
	mux.HandleFunc("POST /slots/{i}/confirm", h.HandleConfirm)
	mux.HandleFunc("POST /slots/{i}/reset", h.HandleReset)
	mux.HandleFunc("GET /events", h.HandleEvents)
	mux.HandleFunc("GET /gallery", h.HandleGallery)
	mux.HandleFunc("GET /playback", h.HandlePlayback)
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Request contexts derive from ctx so open SSE streams end on shutdown.
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
