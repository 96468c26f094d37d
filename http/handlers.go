package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"farmcredit/ml"
	"farmcredit/training"
)

const predictionCacheSize = 512

// ModelHandle swaps the serving engine atomically on reload. Scoring holds
// only a read lock: a trained engine is immutable.
type ModelHandle struct {
	mu      sync.RWMutex
	engine  *ml.Engine
	version uint64
}

func (h *ModelHandle) Get() (*ml.Engine, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine, h.version
}

func (h *ModelHandle) Set(engine *ml.Engine) {
	h.mu.Lock()
	h.engine = engine
	h.version++
	h.mu.Unlock()
}

// PredictionStore persists served predictions; may be nil.
type PredictionStore interface {
	SavePrediction(ctx context.Context, farmerID string, result *ml.PredictionResult) error
}

// Handler wires the engine, lifecycle manager, and store to the API routes.
type Handler struct {
	logger   *zap.Logger
	handle   *ModelHandle
	manager  *training.Manager
	store    PredictionStore
	hub      *Hub
	modelDir string
	cache    *lru.Cache[string, *ml.PredictionResult]
}

func NewHandler(logger *zap.Logger, handle *ModelHandle, manager *training.Manager, store PredictionStore, hub *Hub, modelDir string) (*Handler, error) {
	cache, err := lru.New[string, *ml.PredictionResult](predictionCacheSize)
	if err != nil {
		return nil, err
	}
	return &Handler{
		logger:   logger,
		handle:   handle,
		manager:  manager,
		store:    store,
		hub:      hub,
		modelDir: modelDir,
		cache:    cache,
	}, nil
}

// Register adds all API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("POST /api/credit/predict", h.handlePredict)
	mux.HandleFunc("POST /api/loan/simulate", h.handleSimulateLoan)
	mux.HandleFunc("POST /api/model/train", h.handleTrain)
	mux.HandleFunc("GET /api/model/metrics", h.handleMetrics)
	mux.HandleFunc("GET /api/model/status", h.handleStatus)
	if h.hub != nil {
		mux.HandleFunc("GET /api/ws/training", h.hub.ServeWS)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	var profile ml.FarmerProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, status, err := h.predict(profile)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	if h.store != nil && profile.FarmerID != "" {
		if err := h.store.SavePrediction(r.Context(), profile.FarmerID, result); err != nil {
			h.logger.Warn("persist prediction", zap.Error(err))
		}
	}
	respondJSON(w, http.StatusOK, result)
}

type simulateRequest struct {
	Profile     ml.FarmerProfile `json:"profile"`
	CreditScore *float64         `json:"credit_score,omitempty"`
}

type simulateResponse struct {
	Prediction *ml.PredictionResult    `json:"prediction,omitempty"`
	Loan       ml.LoanSimulationResult `json:"loan"`
}

func (h *Handler) handleSimulateLoan(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Profile.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := simulateResponse{}
	score := 0.0
	if req.CreditScore != nil {
		score = *req.CreditScore
	} else {
		result, status, err := h.predict(req.Profile)
		if err != nil {
			respondError(w, status, err.Error())
			return
		}
		resp.Prediction = result
		score = result.Probability
	}
	resp.Loan = ml.SimulateLoanTerms(score, req.Profile.MonthlyRevenue, req.Profile.ExpenseRatio)
	respondJSON(w, http.StatusOK, resp)
}

type trainRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	go func() {
		result, err := h.manager.Run(context.Background(), req.Force)
		if err != nil {
			if errors.Is(err, training.ErrLockHeld) {
				h.logger.Warn("training already in progress")
				return
			}
			h.logger.Error("training run failed", zap.Error(err))
			return
		}
		if result.Skipped {
			h.logger.Info("training skipped", zap.String("reason", result.SkipReason))
			return
		}
		if engine, err := h.manager.Engine(); err == nil {
			h.handle.Set(engine)
			h.cache.Purge()
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "training started"})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	record, err := training.LatestEvaluation(h.modelDir)
	if err != nil {
		if errors.Is(err, training.ErrMissingArtifact) {
			respondError(w, http.StatusNotFound, "no evaluation available")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load evaluation")
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	engine, version := h.handle.Get()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":         h.manager.State().String(),
		"model_loaded":  engine != nil,
		"model_version": version,
	})
}

// predict validates, scores, and caches by profile content and model
// version. Identical profiles reuse the cached result; attribution stays
// input-specific because every field participates in the key.
func (h *Handler) predict(profile ml.FarmerProfile) (*ml.PredictionResult, int, error) {
	if err := profile.Validate(); err != nil {
		return nil, http.StatusBadRequest, err
	}
	engine, version := h.handle.Get()
	if engine == nil {
		return nil, http.StatusServiceUnavailable, errors.New("model not loaded")
	}

	key, keyed := profileCacheKey(profile, version)
	if keyed {
		if cached, ok := h.cache.Get(key); ok {
			return cached, http.StatusOK, nil
		}
	}

	result, err := engine.Predict(profile)
	if err != nil {
		var vErr *ml.ValidationError
		switch {
		case errors.As(err, &vErr):
			return nil, http.StatusBadRequest, err
		case errors.Is(err, ml.ErrNotTrained):
			return nil, http.StatusServiceUnavailable, err
		default:
			h.logger.Error("prediction failed", zap.Error(err))
			return nil, http.StatusInternalServerError, errors.New("prediction failed")
		}
	}
	if keyed {
		h.cache.Add(key, result)
	}
	return result, http.StatusOK, nil
}

func profileCacheKey(profile ml.FarmerProfile, version uint64) (string, bool) {
	payload, err := json.Marshal(profile)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%d:%s", version, hex.EncodeToString(sum[:])), true
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
