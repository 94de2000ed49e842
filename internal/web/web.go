// Package web serves the sync service's status API.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"gcalsync/internal/config"
	"gcalsync/internal/daterange"
	"gcalsync/internal/engine"
	appLog "gcalsync/internal/log"
	"gcalsync/internal/model"
	"gcalsync/internal/scheduler"
	"gcalsync/internal/status"
)

// SyncStatus reports on and triggers sync passes.
type SyncStatus interface {
	LastRun() (scheduler.Summary, bool)
	Running() bool
	Users() []model.User
	State() *scheduler.StateStore
	RunOnce(ctx context.Context) (scheduler.Summary, bool, error)
}

// CalendarLookup reads the merged free/busy view of a user.
type CalendarLookup interface {
	Lookup(ctx context.Context, user model.User, window daterange.Range) (*engine.CalendarInfo, error)
}

// Server provides the HTTP status API.
type Server struct {
	cfg      *config.Config
	sync     SyncStatus
	calendar CalendarLookup
	mux      *http.ServeMux

	// baseCtx outlives requests; passes started from the API run on it.
	baseCtx context.Context

	// In-memory cache for /api/freebusy responses.
	freeBusyMu    sync.RWMutex
	freeBusyCache map[string]freeBusyCache

	now func() time.Time
}

// NewServer constructs a new Server.
func NewServer(ctx context.Context, cfg *config.Config, syncer SyncStatus, calendar CalendarLookup) *Server {
	s := &Server{
		cfg:           cfg,
		sync:          syncer,
		calendar:      calendar,
		mux:           http.NewServeMux(),
		baseCtx:       ctx,
		freeBusyCache: make(map[string]freeBusyCache),
		now:           time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials count as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="gcalsync", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/freebusy", s.handleFreeBusy)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Running bool               `json:"running"`
	Writer  string             `json:"writer"`
	Refresh string             `json:"refresh"`
	LastRun *scheduler.Summary `json:"last_run,omitempty"`
	Users   []userStatusDTO    `json:"users"`
}

type userStatusDTO struct {
	Email      string     `json:"email"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
}

// handleStatus reports the last pass and per-user sync times.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := statusResponse{
		Running: s.sync.Running(),
		Writer:  s.cfg.Writer,
		Refresh: s.cfg.RefreshCron,
		Users:   []userStatusDTO{},
	}
	if last, ok := s.sync.LastRun(); ok {
		resp.LastRun = &last
	}

	state := s.sync.State()
	for _, u := range s.sync.Users() {
		dto := userStatusDTO{Email: strings.ToLower(u.Email)}
		if state != nil {
			if t, ok := state.LastSynced(u.Email); ok {
				dto.LastSynced = &t
			}
		}
		resp.Users = append(resp.Users, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh starts a pass in the background.
//
// POST /api/refresh answers 202 when a pass was started and 409 when one
// is already running.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.sync.Running() {
		writeError(w, http.StatusConflict, "sync pass already running")
		return
	}

	go func() {
		if _, _, err := s.sync.RunOnce(s.baseCtx); err != nil {
			appLog.Error("manual sync pass failed", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// freeBusyResponse is the JSON response shape for /api/freebusy.
type freeBusyResponse struct {
	User                  string           `json:"user"`
	RangeStart            time.Time        `json:"range_start"`
	RangeEnd              time.Time        `json:"range_end"`
	HaveAppointmentDetail bool             `json:"have_appointment_detail"`
	Blocks                []blockDTO       `json:"blocks"`
	Appointments          []appointmentDTO `json:"appointments"`
}

type blockDTO struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Status       string    `json:"status"`
	Appointments int       `json:"appointments"`
}

type appointmentDTO struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Subject    string    `json:"subject,omitempty"`
	BusyStatus string    `json:"busy_status"`
	Response   string    `json:"response"`
	Owned      bool      `json:"owned"`
	Private    bool      `json:"private"`
}

// freeBusyCache holds a cached /api/freebusy response and its timestamp.
type freeBusyCache struct {
	resp      freeBusyResponse
	updatedAt time.Time
}

const freeBusyCacheTTL = 30 * time.Second

// handleFreeBusy returns the merged free/busy view of one configured user.
//
// GET /api/freebusy?user=alice@example.com&days=7
//   - user: a configured mailbox (required)
//   - days: how many days from now to include (default 7)
func (s *Server) handleFreeBusy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	email := strings.ToLower(strings.TrimSpace(q.Get("user")))
	if email == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	user, ok := s.findUser(email)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 || days > s.cfg.SyncWindowDays {
		days = min(7, s.cfg.SyncWindowDays)
	}

	cacheKey := email + "/" + strconv.Itoa(days)
	now := s.now()
	s.freeBusyMu.RLock()
	fc, hit := s.freeBusyCache[cacheKey]
	s.freeBusyMu.RUnlock()
	if hit && now.Sub(fc.updatedAt) < freeBusyCacheTTL {
		writeJSON(w, http.StatusOK, fc.resp)
		return
	}

	start := now.UTC().Truncate(time.Minute)
	window := daterange.New(start, start.AddDate(0, 0, days))
	info, err := s.calendar.Lookup(r.Context(), user, window)
	if err != nil {
		appLog.Error("api freebusy: lookup failed", err, "user", email)
		writeError(w, http.StatusBadGateway, "free/busy lookup failed")
		return
	}

	resp := freeBusyDTO(user, window, info)
	s.freeBusyMu.Lock()
	s.freeBusyCache[cacheKey] = freeBusyCache{resp: resp, updatedAt: now}
	s.freeBusyMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) findUser(email string) (model.User, bool) {
	for _, u := range s.sync.Users() {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return model.User{}, false
}

func freeBusyDTO(user model.User, window daterange.Range, info *engine.CalendarInfo) freeBusyResponse {
	resp := freeBusyResponse{
		User:                  strings.ToLower(user.Email),
		RangeStart:            window.Start,
		RangeEnd:              window.End,
		HaveAppointmentDetail: info.HaveAppointmentDetail,
		Blocks:                []blockDTO{},
		Appointments:          []appointmentDTO{},
	}

	for _, b := range info.BusyTimes.Blocks() {
		resp.Blocks = append(resp.Blocks, blockDTO{
			Start:        b.Range.Start,
			End:          b.Range.End,
			Status:       blockStatus(info, b.Range).String(),
			Appointments: len(b.Appointments),
		})
	}

	for _, a := range info.BusyTimes.Appointments().All() {
		dto := appointmentDTO{
			Start:      a.Range.Start,
			End:        a.Range.End,
			BusyStatus: a.BusyStatus.String(),
			Owned:      a.Owned(),
			Private:    a.IsPrivate,
		}
		if a.Owned() || a.ResponseStatus == model.ResponseNone {
			dto.Response = status.ResponseFromBusyStatus(a.BusyStatus).String()
		} else {
			dto.Response = status.ResponseFromExchange(a.ResponseStatus).String()
		}
		if !a.IsPrivate {
			dto.Subject = a.Subject
		}
		resp.Appointments = append(resp.Appointments, dto)
	}
	return resp
}

// blockStatus picks the strongest status published for a block.
func blockStatus(info *engine.CalendarInfo, r daterange.Range) model.BusyStatus {
	overlaps := func(ranges []daterange.Range) bool {
		for _, x := range ranges {
			if x.Start.Before(r.End) && r.Start.Before(x.End) {
				return true
			}
		}
		return false
	}
	switch {
	case overlaps(info.FreeBusy.OutOfOffice):
		return model.OutOfOffice
	case overlaps(info.FreeBusy.Busy):
		return model.Busy
	case overlaps(info.FreeBusy.Tentative):
		return model.Tentative
	}
	return model.Busy
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, code, errResp{Error: msg})
}
