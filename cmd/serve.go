package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trial-eligibility/internal/dashboard"
	"github.com/sells-group/trial-eligibility/internal/eligibility"
	"github.com/sells-group/trial-eligibility/internal/model"
	"github.com/sells-group/trial-eligibility/internal/session"
	"github.com/sells-group/trial-eligibility/internal/store"
	"github.com/sells-group/trial-eligibility/pkg/heidi"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initService(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		router := buildRouter(env.Service, cfg.Server.AllowedOrigins)
		return startServer(ctx, router, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves handler on port until ctx is cancelled.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

type api struct {
	svc *dashboard.Service
}

// buildRouter wires the dashboard endpoints.
func buildRouter(svc *dashboard.Service, allowedOrigins []string) http.Handler {
	a := &api{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/trials", a.listTrials)
		r.Get("/patients", a.listPatients)
		r.Post("/patients/reload", a.reloadPatients)
		r.Get("/patients/{sessionID}/transcript", a.getTranscript)
		r.Get("/assessments", a.listAssessments)
		r.Post("/assessments", a.createAssessment)
		r.Post("/prescreen", a.prescreen)
		r.Get("/enrollments", a.listEnrollments)
		r.Patch("/enrollments/stage", a.advanceStage)
	})

	return r
}

type patientTrialRequest struct {
	SessionID string `json:"session_id"`
	TrialID   string `json:"trial_id"`
}

func (req patientTrialRequest) validate() error {
	if req.SessionID == "" {
		return errBadRequest("session_id is required")
	}
	if req.TrialID == "" {
		return errBadRequest("trial_id is required")
	}
	return nil
}

type stageRequest struct {
	patientTrialRequest
	Stage string `json:"stage"`
}

type transcriptResponse struct {
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
	Patient    any    `json:"patient,omitempty"`
}

func (a *api) listTrials(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Catalog().All())
}

func (a *api) listPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := a.svc.Screening(r.Context(), q.Get("trial"), q.Get("sort") == "score")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *api) reloadPatients(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patients":  len(snap.Patients),
		"loaded_at": snap.LoadedAt,
	})
}

func (a *api) getTranscript(w http.ResponseWriter, r *http.Request) {
	at, err := a.svc.Transcript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{
		SessionID:  at.SessionID,
		Transcript: at.Text(),
		Patient:    at.Patient,
	})
}

func (a *api) listAssessments(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Assessments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) createAssessment(w http.ResponseWriter, r *http.Request) {
	var req patientTrialRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	rec, err := a.svc.Assess(r.Context(), req.SessionID, req.TrialID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) prescreen(w http.ResponseWriter, r *http.Request) {
	var req patientTrialRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	ep, err := a.svc.Prescreen(r.Context(), req.SessionID, req.TrialID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func (a *api) listEnrollments(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.Enrollments(r.Context(), r.URL.Query().Get("trial"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) advanceStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	stage, err := model.ParseStage(req.Stage)
	if err != nil {
		writeError(w, errBadRequest(err.Error()))
		return
	}

	if err := a.svc.AdvanceStage(r.Context(), req.SessionID, req.TrialID, stage); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stage": string(stage)})
}

// badRequest marks caller input that failed validation.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func errBadRequest(msg string) error { return &badRequest{msg: msg} }

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest("invalid request body")
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		br  *badRequest
		ae  *heidi.AuthError
		ase *eligibility.AssessmentError
	)
	switch {
	case errors.As(err, &br), errors.Is(err, dashboard.ErrUnknownTrial):
		return http.StatusBadRequest
	case errors.Is(err, dashboard.ErrUnknownPatient), errors.Is(err, session.ErrNoData), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrStageRegression):
		return http.StatusConflict
	case errors.As(err, &ae), errors.As(err, &ase):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
