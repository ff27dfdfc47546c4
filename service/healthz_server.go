package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// RunRecord is the externally visible outcome of one run.
type RunRecord struct {
	RunID     string           `json:"runID"`
	Plan      string           `json:"plan"`
	StartTime time.Time        `json:"startTime"`
	Summary   types.RunSummary `json:"summary"`
	Errors    int              `json:"errors"`
	Failed    bool             `json:"failed"`
}

// StatusProvider exposes the runs the status endpoints report on.
type StatusProvider interface {
	// Runs returns the retained runs, most recent first.
	Runs() []RunRecord
	Run(runID string) (RunRecord, bool)
}

type HealthzServer struct {
	ctx    context.Context
	server *http.Server
	status StatusProvider
}

func NewHealthzServer(status StatusProvider) *HealthzServer {
	return &HealthzServer{status: status}
}

// Handler routes /healthz and, when a StatusProvider is set, the run status
// endpoints /runs, /runs/latest and /runs/{run-id}.
func (h *HealthzServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Handle).Methods(http.MethodGet)
	if h.status != nil {
		r.HandleFunc("/runs", h.handleRuns).Methods(http.MethodGet)
		r.HandleFunc("/runs/latest", h.handleLatest).Methods(http.MethodGet)
		r.HandleFunc("/runs/{run-id}", h.handleRun).Methods(http.MethodGet)
	}
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(r)
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	h.server = &http.Server{
		Handler: h.Handler(),
		Addr:    addr,
	}
	h.ctx = ctx
	return h.server.ListenAndServe()
}

func (h *HealthzServer) Shutdown() error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(h.ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}

func (h *HealthzServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.status.Runs()
	if runs == nil {
		runs = []RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *HealthzServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	runs := h.status.Runs()
	if len(runs) == 0 {
		http.Error(w, "no runs yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, runs[0])
}

func (h *HealthzServer) handleRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	run, ok := h.status.Run(vars["run-id"])
	if !ok {
		http.Error(w, "unknown run", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		log.Error("failed to marshal status response", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Error("failed to send status response", "err", err)
	}
}
