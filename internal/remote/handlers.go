package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/modplay/internal/history"
	"github.com/MrWong99/modplay/internal/library"
	"github.com/MrWong99/modplay/internal/observe"
	"github.com/MrWong99/modplay/internal/playback"
	"github.com/MrWong99/modplay/pkg/engine"
)

// errNoCatalog is returned for library requests when no catalog is wired.
var errNoCatalog = errors.New("remote: library not configured")

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// FrameView is the JSON form of the last decoded frame.
type FrameView struct {
	Seq       uint64 `json:"seq"`
	Position  int    `json:"position"`
	Pattern   int    `json:"pattern"`
	Row       int    `json:"row"`
	NumRows   int    `json:"num_rows"`
	Frame     int    `json:"frame"`
	Speed     int    `json:"speed"`
	BPM       int    `json:"bpm"`
	TimeMS    int64  `json:"time_ms"`
	TotalMS   int64  `json:"total_ms"`
	LoopCount int    `json:"loop_count"`
	Channels  int    `json:"channels_used"`
}

// StatusView is the JSON form of [playback.Status].
type StatusView struct {
	State     string     `json:"state"`
	SessionID string     `json:"session_id,omitempty"`
	Path      string     `json:"path,omitempty"`
	Module    string     `json:"module,omitempty"`
	Type      string     `json:"type,omitempty"`
	Volume    int        `json:"volume"`
	Loop      bool       `json:"loop"`
	Paused    bool       `json:"paused"`
	Frame     *FrameView `json:"frame,omitempty"`
}

// NewStatusView converts st for the wire.
func NewStatusView(st playback.Status) StatusView {
	v := StatusView{
		State:     st.State.String(),
		SessionID: st.SessionID,
		Path:      st.Path,
		Module:    st.Module,
		Type:      st.Type,
		Volume:    st.Volume,
		Loop:      st.Loop,
		Paused:    st.State == playback.StatePaused,
	}
	if f := st.Frame; f != nil {
		v.Frame = &FrameView{
			Seq:       f.Seq,
			Position:  f.Position,
			Pattern:   f.Pattern,
			Row:       f.Row,
			NumRows:   f.NumRows,
			Frame:     f.Frame,
			Speed:     f.Speed,
			BPM:       f.BPM,
			TimeMS:    f.Time.Milliseconds(),
			TotalMS:   f.TotalTime.Milliseconds(),
			LoopCount: f.LoopCount,
			Channels:  f.VirtUsed,
		}
	}
	return v
}

// ── handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, NewStatusView(s.player.Status()))
}

type playRequest struct {
	Path  string `json:"path"`
	Query string `json:"query"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if !decode(w, r, &req) {
		return
	}
	path := req.Path
	if path == "" {
		if req.Query == "" {
			writeError(w, http.StatusBadRequest, errors.New("path or query is required"))
			return
		}
		cat := s.lookupCatalog()
		if cat == nil {
			writeError(w, http.StatusNotImplemented, errNoCatalog)
			return
		}
		m, ok := cat.Best(req.Query)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no module matches %q", req.Query))
			return
		}
		path = m.Path
	}

	if err := s.player.Play(r.Context(), path); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStatusView(s.player.Status()))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.player.Stop()
	} else if err := s.sessions.Stop(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStatusView(s.player.Status()))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	paused, err := s.player.Pause()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.player.Reset(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStatusView(s.player.Status()))
}

type seekRequest struct {
	MS int64 `json:"ms"`
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !decode(w, r, &req) {
		return
	}
	pos, err := s.player.Seek(time.Duration(req.MS) * time.Millisecond)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"position": pos})
}

type positionRequest struct {
	Position *int `json:"position"`
	Delta    int  `json:"delta"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if !decode(w, r, &req) {
		return
	}
	var (
		pos int
		err error
	)
	switch {
	case req.Position != nil:
		pos, err = s.player.SetPosition(*req.Position)
	case req.Delta > 0:
		pos, err = s.player.NextPosition()
	case req.Delta < 0:
		pos, err = s.player.PrevPosition()
	default:
		writeError(w, http.StatusBadRequest, errors.New("position or a non-zero delta is required"))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"position": pos})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.player.Restart(); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type volumeRequest struct {
	Volume *int `json:"volume"`
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Volume == nil {
		writeError(w, http.StatusBadRequest, errors.New("volume is required"))
		return
	}
	if err := s.player.SetVolume(*req.Volume); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"volume": *req.Volume})
}

type loopRequest struct {
	Loop bool `json:"loop"`
}

func (s *Server) handleLoop(w http.ResponseWriter, r *http.Request) {
	var req loopRequest
	if !decode(w, r, &req) {
		return
	}
	s.player.SetLoop(req.Loop)
	writeJSON(w, http.StatusOK, map[string]bool{"loop": req.Loop})
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.Atoi(r.PathValue("ch"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid channel %q", r.PathValue("ch")))
		return
	}
	var req muteRequest
	if !decode(w, r, &req) {
		return
	}
	state := engine.MuteToggle
	if req.Muted != nil {
		state = engine.Unmute
		if *req.Muted {
			state = engine.Mute
		}
	}
	prev, err := s.player.ChannelMute(ch, state)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": ch, "was_muted": prev})
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.player.Formats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, errors.New("remote: history not configured"))
		return
	}
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	cat := s.lookupCatalog()
	if cat == nil {
		writeError(w, http.StatusNotImplemented, errNoCatalog)
		return
	}
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		all := cat.All()
		if limit > 0 && len(all) > limit {
			all = all[:limit]
		}
		writeJSON(w, http.StatusOK, all)
		return
	}
	matches := cat.Find(q, limit)
	if matches == nil {
		matches = []library.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (s *Server) lookupCatalog() Catalog {
	if s.catalog == nil {
		return nil
	}
	return s.catalog()
}

// fail maps err to an HTTP status and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	if kind, ok := engine.LoadErrorKindOf(err); ok {
		switch kind {
		case engine.NotFound:
			return http.StatusNotFound
		case engine.UnsupportedFormat:
			return http.StatusUnsupportedMediaType
		}
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, playback.ErrSessionActive),
		errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, playback.ErrFaulted):
		return http.StatusConflict
	case errors.Is(err, playback.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s %q", key, raw))
		return 0, false
	}
	return n, true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
