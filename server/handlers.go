package server

import (
	"net/http"
	"strconv"

	"diffusion_backend/db"
	"diffusion_backend/generation"
	"diffusion_backend/payload"
	"diffusion_backend/training"

	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": statusOK})
}

// decodeBody reads a JSON object. A malformed body decodes as empty so the
// validator reports the missing fields.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request) map[string]any {
	body, err := payload.Decode(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.logger.Debug("unreadable request body", zap.String("path", r.URL.Path), zap.Error(err))
	}
	return body
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, trained *bool) (*generation.Result, bool) {
	body := s.decodeBody(w, r)
	if trained != nil {
		body["trained"] = *trained
	}
	res, err := s.deps.Generator.Generate(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return res, true
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	res, ok := s.generate(w, r, nil)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Status:       statusOK,
		TrainedModel: res.Trained(),
		Image:        res.Base64(),
	})
}

// imageHandler answers with the raw PNG. A non-nil trained pins the
// variant regardless of the body.
func (s *Server) imageHandler(trained *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := s.generate(w, r, trained)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(res.PNG)))
		w.Header().Set("X-Request-Id", res.RequestID)
		w.Header().Set("X-Cache", cacheHeader(res.CacheHit))
		w.WriteHeader(http.StatusOK)
		w.Write(res.PNG)
	})
}

func cacheHeader(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}

// handleTrain validates the job up front so a bad body is an ordinary 400
// instead of a stream.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	job, err := training.NewJob(s.decodeBody(w, r))
	if err != nil {
		writeError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := s.deps.Trainer.Run(r.Context(), job, training.NewSSEWriter(w)); err != nil {
		s.logger.Debug("training stream ended early", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Status.GetSystemStatus())
}

type historyResponse struct {
	Status  string                `json:"status"`
	Records []db.GenerationRecord `json:"records"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Status: statusError, Errors: []string{"limit must be an integer"}})
			return
		}
		limit = n
	}

	records, err := s.deps.History.RecentGenerations(r.Context(), db.ClampLimit(limit))
	if err != nil {
		s.logger.Error("history query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: statusError, Message: "history unavailable"})
		return
	}
	if records == nil {
		records = []db.GenerationRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Status: statusOK, Records: records})
}
