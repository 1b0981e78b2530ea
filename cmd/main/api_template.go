package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/CTAG07/safetmpl/pkg/compile"
	"github.com/CTAG07/safetmpl/pkg/parse"
	"github.com/CTAG07/safetmpl/pkg/store"
	"github.com/CTAG07/safetmpl/pkg/templating"
)

// maxTemplateBytes caps request bodies carrying template source.
const maxTemplateBytes = 1 << 20

var templateNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm     *templating.TemplateManager
	store  *store.Store
	logger *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, st *store.Store, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:     tm,
		store:  st,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates/check", t.handleCheck)
	mux.HandleFunc("/api/templates/{name}", t.handleTemplate)
}

// PreviewRequest is the JSON body of a preview request.
type PreviewRequest struct {
	Name    string `json:"name"`
	Data    any    `json:"data"`
	Options any    `json:"options"`
}

// CheckResponse reports whether a template source parses and compiles.
type CheckResponse struct {
	OK    bool   `json:"ok"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

// errorKind classifies template errors for API clients.
func errorKind(err error) string {
	var (
		structErr   *parse.StructureError
		exprErr     *parse.ExpressionSyntaxError
		unsupported *compile.UnsupportedDirectiveError
		unknownPipe *compile.UnknownPipeError
	)
	switch {
	case errors.As(err, &structErr):
		return "StructureError"
	case errors.As(err, &exprErr):
		return "ExpressionSyntaxError"
	case errors.As(err, &unsupported):
		return "UnsupportedDirectiveError"
	case errors.As(err, &unknownPipe):
		return "UnknownPipeError"
	case errors.Is(err, templating.ErrTemplateNotFound), errors.Is(err, store.ErrNotFound):
		return "NotFound"
	case errors.Is(err, compile.ErrIncludeDepth):
		return "IncludeDepth"
	}
	return "RenderError"
}

// statusFor maps a template error to an HTTP status code.
func statusFor(err error) int {
	switch errorKind(err) {
	case "NotFound":
		return http.StatusNotFound
	case "StructureError", "ExpressionSyntaxError", "UnsupportedDirectiveError", "UnknownPipeError":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeHTML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

// handleList returns the names of all renderable templates.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !authorize(w, r, scopeTemplatesRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, t.tm.GetTemplateNames())
}

// handleRefresh reloads templates from disk and the store.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !authorize(w, r, scopeTemplatesWrite) {
		return
	}
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleTest renders the posted source as an anonymous template. Data is
// taken from the JSON-encoded "data" query parameter.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !authorize(w, r, scopeTemplatesRead) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBytes))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	var data any
	if raw := r.URL.Query().Get("data"); raw != "" {
		if err = json.Unmarshal([]byte(raw), &data); err != nil {
			respondWithError(w, http.StatusBadRequest, "Query parameter 'data' must be JSON")
			return
		}
	}

	var buf bytes.Buffer
	if err = t.tm.ExecuteTemplateString(&buf, string(body), data, nil); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
		return
	}
	writeHTML(w, buf.Bytes())
}

// handlePreview renders a registered template with the posted data and options.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !authorize(w, r, scopeTemplatesRead) {
		return
	}

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "Field 'name' is required")
		return
	}

	var buf bytes.Buffer
	if err := t.tm.Execute(&buf, req.Name, req.Data, req.Options); err != nil {
		respondWithError(w, statusFor(err), fmt.Sprintf("Failed to render preview: %v", err))
		return
	}
	writeHTML(w, buf.Bytes())
}

// handleCheck parses and compiles the posted source and reports the result.
func (t *TemplateAPI) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !authorize(w, r, scopeTemplatesRead) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBytes))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}
	if err = t.tm.Check(string(body)); err != nil {
		respondWithJSON(w, http.StatusOK, CheckResponse{Kind: errorKind(err), Error: err.Error()})
		return
	}
	respondWithJSON(w, http.StatusOK, CheckResponse{OK: true})
}

// handleTemplate reads, stores or deletes a single template source.
func (t *TemplateAPI) handleTemplate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !templateNamePattern.MatchString(name) {
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !authorize(w, r, scopeTemplatesRead) {
			return
		}
		source, err := t.source(r, name)
		if err != nil {
			respondWithError(w, statusFor(err), "Template not found")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, source)

	case http.MethodPut:
		if !authorize(w, r, scopeTemplatesWrite) {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBytes))
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = t.tm.Check(string(body)); err != nil {
			respondWithJSON(w, http.StatusBadRequest, CheckResponse{Kind: errorKind(err), Error: err.Error()})
			return
		}
		if err = t.store.Put(r.Context(), name, string(body)); err != nil {
			t.logger.Error("Failed to store template", "name", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to store template")
			return
		}
		t.refresh(w, name)

	case http.MethodDelete:
		if !authorize(w, r, scopeTemplatesWrite) {
			return
		}
		if err := t.store.Delete(r.Context(), name); err != nil {
			respondWithError(w, statusFor(err), fmt.Sprintf("Failed to delete template: %v", err))
			return
		}
		t.refresh(w, name)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// source returns the stored source for name, falling back to the
// re-serialized source of a file-backed template.
func (t *TemplateAPI) source(r *http.Request, name string) (string, error) {
	rec, err := t.store.Get(r.Context(), name)
	if err == nil {
		return rec.Source, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	return t.tm.Registry().Source(name)
}

func (t *TemplateAPI) refresh(w http.ResponseWriter, name string) {
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("Refresh after template change failed", "name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Template saved but refresh failed: %v", err))
		return
	}
	t.logger.Info("Template updated via API", "name", name)
	w.WriteHeader(http.StatusNoContent)
}
