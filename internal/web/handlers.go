package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/events"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/slot"
	"github.com/cjeanneret/BoothGo/internal/logic/status"
)

// Booth is the slot control surface exposed over HTTP.
type Booth interface {
	Len() int
	Snapshot(index int) (slot.Snapshot, error)
	Snapshots() []slot.Snapshot
	TriggerCapture(index int) error
	AdvanceClassification(index int, d status.Direction) error
	RequestConfirm(index int) error
	ForceReset(index int) error
	ForceResetAll()
}

// EventLog is the booth event history.
type EventLog interface {
	Since(seq int64) []events.Event
	Subscribe(kinds ...events.Kind) (<-chan events.Event, func())
}

// GalleryView lists the images shown on the secondary display.
type GalleryView interface {
	Items() []string
	Max() int
}

// PlaybackView reports whether a confirmed capture is being presented.
type PlaybackView interface {
	Active() bool
}

// heartbeatInterval keeps idle SSE connections open through proxies.
var heartbeatInterval = 30 * time.Second

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Booth       Booth
	Events      EventLog
	Gallery     GalleryView
	Playback    PlaybackView
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// Gallery and Playback may be nil; their routes then report empty values.
func NewHandlers(broadcaster *StatusBroadcaster, booth Booth, log EventLog, gallery GalleryView, playback PlaybackView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Booth:       booth,
		Events:      log,
		Gallery:     gallery,
		Playback:    playback,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Error("web: encode response", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, capture.ErrUnknownSlot):
		code = http.StatusNotFound
	case errors.Is(err, capture.ErrNotReady), errors.Is(err, capture.ErrIgnored):
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// slotIndex parses the {i} path value.
func slotIndex(r *http.Request) (int, error) {
	raw := r.PathValue("i")
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid slot index %q", raw)
	}
	return i, nil
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleSlots handles GET /slots.
func (h *Handlers) HandleSlots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Booth.Snapshots())
}

// HandleSlot handles GET /slots/{i}.
func (h *Handlers) HandleSlot(w http.ResponseWriter, r *http.Request) {
	i, err := slotIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, err := h.Booth.Snapshot(i)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// slotAction wraps a per-slot POST. The response carries the slot snapshot
// taken after the signal was applied.
func (h *Handlers) slotAction(code int, do func(i int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := slotIndex(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := do(i); err != nil {
			writeError(w, err)
			return
		}
		snap, err := h.Booth.Snapshot(i)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, code, snap)
	}
}

// HandleCapture handles POST /slots/{i}/capture. Acquisition runs in the
// background, so a started capture answers 202.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	h.slotAction(http.StatusAccepted, h.Booth.TriggerCapture)(w, r)
}

// HandleNext handles POST /slots/{i}/next.
func (h *Handlers) HandleNext(w http.ResponseWriter, r *http.Request) {
	h.slotAction(http.StatusOK, func(i int) error {
		return h.Booth.AdvanceClassification(i, status.Forward)
	})(w, r)
}

// HandlePrev handles POST /slots/{i}/prev.
func (h *Handlers) HandlePrev(w http.ResponseWriter, r *http.Request) {
	h.slotAction(http.StatusOK, func(i int) error {
		return h.Booth.AdvanceClassification(i, status.Backward)
	})(w, r)
}

// HandleConfirm handles POST /slots/{i}/confirm.
func (h *Handlers) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	h.slotAction(http.StatusOK, h.Booth.RequestConfirm)(w, r)
}

// HandleReset handles POST /slots/{i}/reset.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.slotAction(http.StatusOK, h.Booth.ForceReset)(w, r)
}

// HandleResetAll handles POST /slots/reset.
func (h *Handlers) HandleResetAll(w http.ResponseWriter, r *http.Request) {
	h.Booth.ForceResetAll()
	writeJSON(w, http.StatusOK, h.Booth.Snapshots())
}

// HandleEvents handles GET /events?since=N.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = v
	}
	list := h.Events.Since(since)
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

type galleryResponse struct {
	Max    int      `json:"max"`
	Images []string `json:"images"`
}

// HandleGallery handles GET /gallery.
func (h *Handlers) HandleGallery(w http.ResponseWriter, r *http.Request) {
	resp := galleryResponse{Images: []string{}}
	if h.Gallery != nil {
		resp.Max = h.Gallery.Max()
		resp.Images = h.Gallery.Items()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePlayback handles GET /playback.
func (h *Handlers) HandlePlayback(w http.ResponseWriter, r *http.Request) {
	active := h.Playback != nil && h.Playback.Active()
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

// HandleStatusStream handles GET /status/stream for SSE. Log lines are sent
// as plain data messages, booth events as "booth" events carrying their
// sequence number as id. A reconnecting client sending Last-Event-ID first
// receives the events it missed.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	logs, unsubLogs := h.Broadcaster.Subscribe()
	defer unsubLogs()
	evts, unsubEvents := h.Events.Subscribe()
	defer unsubEvents()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))

	var last int64
	if id, err := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		for _, e := range h.Events.Since(id) {
			writeEvent(w, e)
			last = e.Seq
		}
	}
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-logs:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case e, ok := <-evts:
			if !ok {
				return
			}
			if e.Seq <= last {
				continue // already replayed
			}
			writeEvent(w, e)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: booth\ndata: %s\n\n", e.Seq, data)
}
