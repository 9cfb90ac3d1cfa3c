package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aluiziolira/go-books-pipeline/cluster"
	"github.com/aluiziolira/go-books-pipeline/features"
	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/aluiziolira/go-books-pipeline/parser"
	"github.com/aluiziolira/go-books-pipeline/pipeline"
	"github.com/aluiziolira/go-books-pipeline/store"
	"github.com/go-chi/chi/v5"
)

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

type runResponse struct {
	Status string `json:"status"`
	pipeline.Ticket
}

type predictRequest struct {
	Price  *float64 `json:"price"`
	Rating string   `json:"rating"`
}

type predictInput struct {
	Price         float64 `json:"price"`
	Rating        string  `json:"rating"`
	RatingOrdinal int     `json:"rating_ordinal"`
}

type predictResponse struct {
	Input predictInput `json:"input"`
	cluster.Prediction
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		ModelLoaded: s.inference != nil && s.inference.Available(),
	}, s.logger)
}

func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.runs.Submit(r.Context())
	if errors.Is(err, pipeline.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "a pipeline run is already in progress", s.logger)
		return
	}
	if err != nil {
		s.logger.Error("submit pipeline run", "error", err)
		writeError(w, http.StatusInternalServerError, "could not start pipeline run", s.logger)
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{Status: "accepted", Ticket: ticket}, s.logger)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", s.logger)
		return
	}
	if req.Price == nil || *req.Price < 0 {
		writeError(w, http.StatusBadRequest, "price must be a non-negative number", s.logger)
		return
	}
	rating, err := parser.ParseRating(req.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, "rating must be one of One, Two, Three, Four, Five", s.logger)
		return
	}

	vector := models.FeatureVector{Price: *req.Price, RatingOrdinal: int(rating)}
	if s.inference == nil {
		writeError(w, http.StatusServiceUnavailable, "inference unavailable", s.logger)
		return
	}
	prediction, err := s.inference.Predict(vector)
	if errors.Is(err, cluster.ErrInferenceUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "inference unavailable", s.logger)
		return
	}
	if err != nil {
		s.logger.Error("predict", "error", err)
		writeError(w, http.StatusInternalServerError, "prediction failed", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{
		Input: predictInput{
			Price:         vector.Price,
			Rating:        rating.String(),
			RatingOrdinal: vector.RatingOrdinal,
		},
		Prediction: prediction,
	}, s.logger)
}

func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	vectors, err := features.Collect(features.All(r.Context(), s.catalog))
	if err != nil {
		s.logger.Error("list features", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read catalog", s.logger)
		return
	}
	if vectors == nil {
		vectors = []models.FeatureVector{}
	}
	writeJSON(w, http.StatusOK, vectors, s.logger)
}

func (s *Server) handleGetFeatures(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer", s.logger)
		return
	}

	book, err := s.catalog.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "book not found", s.logger)
		return
	}
	if err != nil {
		s.logger.Error("get book", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not read catalog", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, features.FromStored(book), s.logger)
}
