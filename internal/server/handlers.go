package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/models"
	"github.com/RohitChoukiker/medQuery/internal/storage"
	"github.com/RohitChoukiker/medQuery/internal/tagger"
	"github.com/RohitChoukiker/medQuery/internal/vector"
	"go.uber.org/zap"
)

// roleHeader carries the caller's role when the body does not.
const roleHeader = "X-User-Role"

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = r.Header.Get(roleHeader)
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ans, err := s.answerer.Answer(r.Context(), req)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ans)
}

type tagRequest struct {
	Text string `json:"text"`
}

type tagResponse struct {
	tagger.TagSet
	MedicalNumbers []tagger.MedicalNumber `json:"medical_numbers"`
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.respondError(w, http.StatusBadRequest, "text cannot be empty")
		return
	}
	s.respondJSON(w, http.StatusOK, tagResponse{
		TagSet:         s.tagger.Tag(req.Text),
		MedicalNumbers: s.tagger.ExtractMedicalNumbers(req.Text),
	})
}

func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"category": string(s.tagger.Categorize(req.Query))})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"entries":    s.store.Count(),
		"dimensions": s.store.Dimensions(),
		"backend":    s.config.Store.Backend,
		"config": map[string]interface{}{
			"embedding_provider":  s.config.Embedding.Provider,
			"embedding_model":     s.config.Embedding.ModelID,
			"generation_provider": s.config.Generation.Provider,
			"generation_model":    s.config.Generation.ModelID,
			"chunk_size":          s.config.Chunking.Size,
			"chunk_overlap":       s.config.Chunking.Overlap,
			"retrieval_k":         s.config.Retrieval.K,
		},
		"ner_available": s.tagger != nil && s.tagger.NERAvailable(),
	}
	if s.config.Store.Backend == vector.BackendDisk {
		if u, err := storage.DiskUsage(s.config.Store.Path); err == nil {
			resp["disk_usage_bytes"] = u.Bytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into dst, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.RetrievalEmpty:
		return http.StatusConflict
	case apperr.GenerationTimeout:
		return http.StatusGatewayTimeout
	case apperr.ModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondAppError answers with the public message for err's kind. Detail is
// logged, never returned.
func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("query failed", zap.String("kind", kind.String()), zap.Error(err))
	}
	s.respondJSON(w, status, map[string]string{
		"error": apperr.PublicMessage(kind),
		"kind":  kind.String(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
