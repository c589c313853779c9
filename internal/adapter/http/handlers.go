package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/highlight"
	"github.com/couchcryptid/notam-watch/internal/scheduler"
)

type windowStatus struct {
	Calls     int       `json:"calls"`
	Available int       `json:"available"`
	Start     time.Time `json:"start,omitempty"`
	WaitMs    int64     `json:"waitMs"`
}

type airportView struct {
	scheduler.AirportStatus
	HasNew bool `json:"hasNew"`
}

type statusResponse struct {
	State         scheduler.State `json:"state"`
	SessionActive bool            `json:"sessionActive"`
	QueueLength   int             `json:"queueLength"`
	Window        windowStatus    `json:"window"`
	Airports      []airportView   `json:"airports"`
	Unread        int             `json:"unreadNotifications"`
}

type icaosRequest struct {
	ICAOs []string `json:"icaos"`
}

type icaosResponse struct {
	ICAOs []string `json:"icaos"`
}

type highlightsResponse struct {
	Airports []string          `json:"airports"`
	Entries  []highlight.Entry `json:"entries"`
}

type notificationsResponse struct {
	Unread        int                      `json:"unread"`
	Notifications []highlight.Notification `json:"notifications"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sched := s.deps.Scheduler
	win := sched.Window()

	hasNew := make(map[string]bool)
	for _, icao := range s.deps.Highlights.Airports() {
		hasNew[icao] = true
	}
	statuses := sched.Statuses()
	airports := make([]airportView, len(statuses))
	for i, st := range statuses {
		airports[i] = airportView{AirportStatus: st, HasNew: hasNew[st.ICAO]}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		State:         sched.State(),
		SessionActive: s.deps.Session.Active(),
		QueueLength:   sched.QueueLen(),
		Window: windowStatus{
			Calls:     win.Calls(),
			Available: win.Available(),
			Start:     win.Start(),
			WaitMs:    win.WaitTime().Milliseconds(),
		},
		Airports: airports,
		Unread:   s.deps.Feed.Unread(),
	})
}

func (s *Server) handleNotams(w http.ResponseWriter, r *http.Request) {
	icao, ok := s.icaoParam(w, r.URL.Query().Get("icao"))
	if !ok {
		return
	}
	env, found := s.deps.Scheduler.Snapshot(icao)
	if !found {
		writeError(w, http.StatusNotFound, "no snapshot for "+icao)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleListICAOs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, icaosResponse{ICAOs: s.deps.Scheduler.Tracked()})
}

func (s *Server) handleAddICAOs(w http.ResponseWriter, r *http.Request) {
	var req icaosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ICAOs) == 0 {
		writeError(w, http.StatusBadRequest, "icaos is required")
		return
	}

	codes, err := s.deps.Scheduler.Track(r.Context(), req.ICAOs...)
	if errors.Is(err, domain.ErrInvalidICAO) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("track icaos failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("icaos tracked", "icaos", codes)
	writeJSON(w, http.StatusAccepted, icaosResponse{ICAOs: codes})
}

func (s *Server) handleRemoveICAO(w http.ResponseWriter, r *http.Request) {
	icao, ok := s.icaoParam(w, chi.URLParam(r, "icao"))
	if !ok {
		return
	}
	if !s.deps.Scheduler.Remove(r.Context(), icao) {
		writeError(w, http.StatusNotFound, icao+" is not tracked")
		return
	}
	s.deps.Highlights.MarkAirportViewed(icao)
	s.logger.Info("icao removed", "icao", icao)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHighlights(w http.ResponseWriter, r *http.Request) {
	var icao string
	if raw := r.URL.Query().Get("icao"); raw != "" {
		var ok bool
		if icao, ok = s.icaoParam(w, raw); !ok {
			return
		}
	}
	writeJSON(w, http.StatusOK, highlightsResponse{
		Airports: s.deps.Highlights.Airports(),
		Entries:  s.deps.Highlights.Active(icao),
	})
}

func (s *Server) handleHighlightsViewed(w http.ResponseWriter, r *http.Request) {
	icao, ok := s.icaoParam(w, chi.URLParam(r, "icao"))
	if !ok {
		return
	}

	cleared := 0
	if key := r.URL.Query().Get("key"); key != "" {
		if s.deps.Highlights.MarkViewed(icao, key) {
			cleared = 1
		}
	} else {
		cleared = s.deps.Highlights.MarkAirportViewed(icao)
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, notificationsResponse{
		Unread:        s.deps.Feed.Unread(),
		Notifications: s.deps.Feed.List(),
	})
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Feed.MarkRead(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotificationsReadAll(w http.ResponseWriter, _ *http.Request) {
	s.deps.Feed.MarkAllRead()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotificationsClear(w http.ResponseWriter, _ *http.Request) {
	s.deps.Feed.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch action := chi.URLParam(r, "action"); action {
	case "pause":
		s.deps.Session.Pause()
	case "resume":
		s.deps.Session.Resume()
	default:
		writeError(w, http.StatusNotFound, "unknown session action "+action)
		return
	}
	s.logger.Info("session updated", "active", s.deps.Session.Active())
	writeJSON(w, http.StatusOK, map[string]bool{"active": s.deps.Session.Active()})
}

// icaoParam validates a code, writing a 400 when it is missing or invalid.
func (s *Server) icaoParam(w http.ResponseWriter, raw string) (string, bool) {
	if raw == "" {
		writeError(w, http.StatusBadRequest, "icao is required")
		return "", false
	}
	icao, err := domain.NormalizeICAO(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return icao, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
