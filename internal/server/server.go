// Package server exposes the judgment service over HTTP. Handlers are thin
// request/response adapters over the training, retrieval, and consolidation
// services; no business logic lives here.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/onlyreason/judgment/internal/consolidation"
	"github.com/onlyreason/judgment/internal/judgment"
	"github.com/onlyreason/judgment/internal/llm"
	"github.com/onlyreason/judgment/internal/memory"
	"github.com/onlyreason/judgment/internal/retrieval"
	"github.com/onlyreason/judgment/internal/training"
)

// Version is the service version reported by the health endpoint.
const Version = "0.1.0"

// Server holds the service handles shared by every request.
type Server struct {
	store        memory.Store
	embedder     llm.Embedder
	trainer      *training.Handler
	envelopes    *retrieval.EnvelopeBuilder
	consolidator *consolidation.NightlyConsolidator
	serviceToken string
}

// New creates a Server over explicitly constructed service handles.
func New(store memory.Store, embedder llm.Embedder, trainer *training.Handler, envelopes *retrieval.EnvelopeBuilder, consolidator *consolidation.NightlyConsolidator, serviceToken string) *Server {
	return &Server{
		store:        store,
		embedder:     embedder,
		trainer:      trainer,
		envelopes:    envelopes,
		consolidator: consolidator,
		serviceToken: serviceToken,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Post("/envelope/build", s.handleEnvelopeBuild)
		r.Post("/training/session", s.handleTrainingSession)
		r.Post("/training/correction", s.handleTrainingCorrection)
		r.Get("/training/status/{agentID}", s.handleTrainingStatus)
		r.Get("/training/version/diff", s.handleVersionDiff)
		r.Post("/memory/semantic/search", s.handleSemanticSearch)
		r.Post("/memory/semantic/write", s.handleSemanticWrite)
		r.Post("/consolidation/run", s.handleConsolidationRun)
	})

	return r
}

// requireToken verifies the X-Service-Token header on every protected route.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.serviceToken == "" {
			writeError(w, http.StatusInternalServerError, "SERVICE_TOKEN not configured on server")
			return
		}
		if r.Header.Get("X-Service-Token") != s.serviceToken {
			writeError(w, http.StatusUnauthorized, "Invalid service token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	DatabaseConnected bool   `json:"database_connected"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.storeHealthy(r.Context())

	status := "healthy"
	if !dbOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:            status,
		Version:           Version,
		DatabaseConnected: dbOK,
	})
}

// storeHealthy probes the store with a cheap read.
func (s *Server) storeHealthy(ctx context.Context) bool {
	_, err := s.store.LatestVersion(ctx, "health-probe")
	return err == nil
}

type envelopeBuildRequest struct {
	AgentID   string `json:"agent_id"`
	TaskSpec  string `json:"task_spec"`
	CompanyID string `json:"company_id"`
}

func (s *Server) handleEnvelopeBuild(w http.ResponseWriter, r *http.Request) {
	var req envelopeBuildRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	env, err := s.envelopes.Build(r.Context(), req.AgentID, req.TaskSpec, req.CompanyID)
	if err != nil {
		serveFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, env)
}

type trainingSessionRequest struct {
	AgentID    string `json:"agent_id"`
	ExpertID   string `json:"expert_id"`
	Transcript string `json:"transcript"`
	IsAudio    bool   `json:"is_audio"`
}

type trainingSessionResponse struct {
	Success              bool                         `json:"success"`
	TrainingVersion      string                       `json:"training_version"`
	PatternsExtracted    int                          `json:"patterns_extracted"`
	ConstraintsExtracted int                          `json:"constraints_extracted"`
	ReviewRequired       []judgment.ContradictionFlag `json:"review_required"`
	Message              string                       `json:"message"`
}

func (s *Server) handleTrainingSession(w http.ResponseWriter, r *http.Request) {
	var req trainingSessionRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.ExpertID == "" {
		writeError(w, http.StatusBadRequest, "agent_id and expert_id are required")
		return
	}

	result, err := s.trainer.ProcessSession(r.Context(), req.AgentID, req.ExpertID, req.Transcript, req.IsAudio)
	if err != nil {
		serveFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trainingSessionResponse{
		Success:              true,
		TrainingVersion:      result.TrainingVersion,
		PatternsExtracted:    result.PatternsExtracted,
		ConstraintsExtracted: result.ConstraintsExtracted,
		ReviewRequired:       result.ReviewRequired,
		Message:              result.Message,
	})
}

type correctionRequest struct {
	AgentID           string `json:"agent_id"`
	TaskID            string `json:"task_id"`
	CorrectionContent string `json:"correction_content"`
	CorrectionType    string `json:"correction_type"`
	CreatedAt         string `json:"created_at"`
}

type correctionResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Incorporated bool   `json:"incorporated"`
}

func (s *Server) handleTrainingCorrection(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	err := s.trainer.RecordCorrection(r.Context(), req.AgentID, req.TaskID, req.CorrectionContent, req.CorrectionType, req.CreatedAt)
	if err != nil {
		serveFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, correctionResponse{
		Success:      true,
		Message:      "Correction recorded as training signal",
		Incorporated: false, // incorporated at the next training version
	})
}

type trainingStatusResponse struct {
	Trained          bool   `json:"trained"`
	TrainingVersion  string `json:"training_version,omitempty"`
	LastTrainingDate string `json:"last_training_date,omitempty"`
	PatternCount     int    `json:"pattern_count"`
	ConstraintCount  int    `json:"constraint_count"`
}

func (s *Server) handleTrainingStatus(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	rec, err := s.store.LoadLatestProfile(r.Context(), agentID)
	if err != nil {
		serveFailure(w, err)
		return
	}

	if rec == nil {
		writeJSON(w, http.StatusOK, trainingStatusResponse{Trained: false})
		return
	}

	writeJSON(w, http.StatusOK, trainingStatusResponse{
		Trained:          true,
		TrainingVersion:  rec.VersionHash,
		LastTrainingDate: rec.CreatedAt.UTC().Format(time.RFC3339),
		PatternCount:     len(rec.Profile.Patterns),
		ConstraintCount:  len(rec.Profile.Constraints),
	})
}

type versionDiffResponse struct {
	AgentID string `json:"agent_id"`
	judgment.VersionDiff
}

func (s *Server) handleVersionDiff(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	versionA := r.URL.Query().Get("version_a")
	versionB := r.URL.Query().Get("version_b")

	recA, err := s.resolveVersion(r.Context(), agentID, versionA)
	if err != nil {
		serveFailure(w, err)
		return
	}
	recB, err := s.resolveVersion(r.Context(), agentID, versionB)
	if err != nil {
		serveFailure(w, err)
		return
	}
	if recA == nil || recB == nil {
		writeError(w, http.StatusNotFound, "No training data found for agent "+agentID)
		return
	}

	writeJSON(w, http.StatusOK, versionDiffResponse{
		AgentID:     agentID,
		VersionDiff: judgment.DiffProfiles(*recA, *recB),
	})
}

// resolveVersion loads a version record by hash; empty, "current", and
// "latest" all resolve to the newest version.
func (s *Server) resolveVersion(ctx context.Context, agentID, version string) (*judgment.VersionRecord, error) {
	switch version {
	case "", "current", "latest":
		return s.store.LoadLatestProfile(ctx, agentID)
	default:
		return s.store.LoadProfileVersion(ctx, agentID, version)
	}
}

type semanticSearchRequest struct {
	AgentID string `json:"agent_id"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

type semanticSearchResponse struct {
	Results []memory.MemoryHit `json:"results"`
}

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	var req semanticSearchRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "agent_id and query are required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	vector, err := s.embedder.Embed(r.Context(), req.Query)
	if err != nil {
		serveFailure(w, err)
		return
	}

	hits, err := s.store.SearchMemories(r.Context(), req.AgentID, vector, req.Limit)
	if err != nil {
		serveFailure(w, err)
		return
	}
	if hits == nil {
		hits = []memory.MemoryHit{}
	}

	writeJSON(w, http.StatusOK, semanticSearchResponse{Results: hits})
}

type semanticWriteRequest struct {
	AgentID  string                 `json:"agent_id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

type semanticWriteResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

func (s *Server) handleSemanticWrite(w http.ResponseWriter, r *http.Request) {
	var req semanticWriteRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "agent_id and content are required")
		return
	}

	vector, err := s.embedder.Embed(r.Context(), req.Content)
	if err != nil {
		serveFailure(w, err)
		return
	}

	id, err := s.store.WriteMemory(r.Context(), req.AgentID, req.Content, vector, req.Metadata, "company")
	if err != nil {
		serveFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, semanticWriteResponse{ID: id, Success: true})
}

type consolidationRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleConsolidationRun(w http.ResponseWriter, r *http.Request) {
	var req consolidationRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	summary, err := s.consolidator.Run(r.Context(), req.AgentID)
	if err != nil {
		serveFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// serveFailure maps a service error to an HTTP status.
func serveFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, training.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("server: request failed: %v", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
