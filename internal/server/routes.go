package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/usecase"
)

// Failure is the body of every expected error response.
type Failure struct {
	Status  int    `json:"-"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (f *Failure) Error() string  { return f.Message }
func (f *Failure) GetStatus() int { return f.Status }

func failure(err error) *Failure {
	return &Failure{Status: errs.HTTPStatus(err), Message: err.Error()}
}

type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

type HealthResponse struct {
	Body HealthBody
}

type SearchByTextInput struct {
	Query string `query:"query" doc:"Text to search for"`
	Limit int    `query:"limit" default:"5" doc:"Maximum number of results"`
}

type SearchResponse struct {
	Body []domain.SearchResult
}

// UploadResult is the body of POST /upload.
type UploadResult struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Success  bool   `json:"success"`
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "search-by-text",
		Method:      http.MethodGet,
		Path:        "/search-by-text",
		Summary:     "Find the images closest to a text query",
		Tags:        []string{"search"},
	}, s.searchByText)

	// Multipart endpoints stay on plain chi handlers.
	s.router.Post("/upload", s.handleUpload)
	s.router.Post("/search-by-image", s.handleSearchByImage)
}

func (s *Server) searchByText(ctx context.Context, input *SearchByTextInput) (*SearchResponse, error) {
	results, err := s.searcher.SearchByText(ctx, input.Query, input.Limit)
	if err != nil {
		s.log.Warn("text search failed", "code", errs.CodeString(err), "error", err)
		return nil, failure(err)
	}
	return &SearchResponse{Body: results}, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, filename, err := s.readUpload(w, r)
	if err != nil {
		writeJSON(w, errs.HTTPStatus(err), failure(err))
		return
	}

	if !s.ingester.AddImageBytes(r.Context(), data, filename) {
		writeJSON(w, http.StatusOK, UploadResult{Message: "Failed to upload image", Filename: filename})
		return
	}
	writeJSON(w, http.StatusOK, UploadResult{Message: "Image uploaded successfully", Filename: filename, Success: true})
}

func (s *Server) handleSearchByImage(w http.ResponseWriter, r *http.Request) {
	data, _, err := s.readUpload(w, r)
	if err != nil {
		writeJSON(w, errs.HTTPStatus(err), failure(err))
		return
	}

	limit, err := limitParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err))
		return
	}

	results, err := s.searcher.SearchByImageBytes(r.Context(), data, limit)
	if err != nil {
		s.log.Warn("image search failed", "code", errs.CodeString(err), "error", err)
		writeJSON(w, errs.HTTPStatus(err), failure(err))
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// readUpload returns the bytes and base name of the multipart "file" field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", errs.New(errs.CodeInvalidInput, "upload too large", errs.Field("limit", tooLarge.Limit))
		}
		return nil, "", errs.Wrap(err, errs.CodeInvalidInput, "missing multipart field \"file\"")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errs.Wrap(err, errs.CodeInvalidInput, "reading upload")
	}
	return data, filepath.Base(header.Filename), nil
}

// limitParam reads limit from the query string or the form; absent means default.
func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		raw = r.FormValue("limit")
	}
	if raw == "" {
		return usecase.DefaultLimit, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Wrap(err, errs.CodeInvalidInput, "limit must be an integer")
	}
	if k < 1 {
		return 0, errs.New(errs.CodeInvalidInput, "limit must be at least 1")
	}
	return k, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
