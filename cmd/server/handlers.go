package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/brunobiangulo/mindforge"
	"github.com/brunobiangulo/mindforge/auth"
	"github.com/brunobiangulo/mindforge/mindmap"
	"github.com/brunobiangulo/mindforge/relay"
	"github.com/brunobiangulo/mindforge/store"
	"github.com/brunobiangulo/mindforge/transcribe"
)

const maxJSONBody = 1 << 20

var validate = validator.New()

type handler struct {
	engine    mindforge.Engine
	maxUpload int64
}

func newHandler(e mindforge.Engine, maxUpload int64) *handler {
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	return &handler{engine: e, maxUpload: maxUpload}
}

type generateRequest struct {
	Topic  string `json:"topic" validate:"required,max=500"`
	Layout string `json:"layout" validate:"omitempty,oneof=radial chained"`
	Shape  string `json:"shape" validate:"omitempty,oneof=json bullets"`
}

type parseRequest struct {
	Text   string          `json:"text" validate:"required_without=Object"`
	Object json.RawMessage `json:"object"`
	Topic  string          `json:"topic" validate:"max=500"`
	Layout string          `json:"layout" validate:"omitempty,oneof=radial chained"`
	Save   bool            `json:"save"`
}

type moveRequest struct {
	X *float64 `json:"x" validate:"required"`
	Y *float64 `json:"y" validate:"required"`
}

type chatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

type chatRequest struct {
	Message        string        `json:"message" validate:"required,max=16000"`
	ConversationID string        `json:"conversation_id" validate:"max=128"`
	Model          string        `json:"model" validate:"max=128"`
	History        []chatMessage `json:"history" validate:"max=100,dive"`
}

// POST /api/mindmaps
func (h *handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req generateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.engine.GenerateMindmap(ctx, auth.UserID(ctx), mindforge.GenerateRequest{
		Topic:  req.Topic,
		Layout: req.Layout,
		Shape:  req.Shape,
	})
	if err != nil {
		writeEngineError(w, r, "generate", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// POST /api/mindmaps/parse
func (h *handler) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	out, err := h.engine.ParseMindmap(r.Context(), auth.UserID(r.Context()), mindforge.ParseRequest{
		Text:   req.Text,
		Object: req.Object,
		Topic:  req.Topic,
		Layout: req.Layout,
		Save:   req.Save,
	})
	if errors.Is(err, mindforge.ErrNoDiagram) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error": "no diagram produced",
			"nodes": []mindmap.Node{},
			"edges": []mindmap.Edge{},
		})
		return
	}
	if err != nil {
		writeEngineError(w, r, "parse", err)
		return
	}

	status := http.StatusOK
	if out.ID != "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"id":      out.ID,
		"nodes":   out.Graph.Nodes,
		"edges":   out.Graph.Edges,
		"outline": out.Outline,
	})
}

// GET /api/mindmaps?limit=
func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 50, 500)
	if !ok {
		return
	}
	maps, err := h.engine.ListMindmaps(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		writeEngineError(w, r, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mindmaps": maps})
}

// GET /api/mindmaps/search?q=&k=
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k, ok := intParam(w, r, "k", 10, 100)
	if !ok {
		return
	}
	results, err := h.engine.SearchMindmaps(r.Context(), auth.UserID(r.Context()), q, k)
	if err != nil {
		writeEngineError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// GET /api/mindmaps/{id}
func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.GetMindmap(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DELETE /api/mindmaps/{id}
func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.DeleteMindmap(r.Context(), auth.UserID(r.Context()), id); err != nil {
		writeEngineError(w, r, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// PATCH /api/mindmaps/{id}/nodes/{nodeID}
func (h *handler) handleMoveNode(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	m, err := h.engine.MoveNode(r.Context(), auth.UserID(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "nodeID"),
		mindmap.Position{X: *req.X, Y: *req.Y})
	if err != nil {
		writeEngineError(w, r, "move node", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DELETE /api/mindmaps/{id}/nodes/{nodeID}
func (h *handler) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	m, removed, err := h.engine.RemoveNode(r.Context(), auth.UserID(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "nodeID"))
	if err != nil {
		writeEngineError(w, r, "remove node", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mindmap": m,
		"removed": removed,
	})
}

// POST /api/chat
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Minute)
	defer cancel()

	var req chatRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	history := make([]relay.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, relay.Message{Role: m.Role, Content: m.Content})
	}
	resp, err := h.engine.Chat(ctx, auth.UserID(ctx), auth.TokenFromContext(ctx), relay.ChatRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Model:          req.Model,
		History:        history,
	})
	if err != nil {
		writeEngineError(w, r, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/usage?since=RFC3339
func (h *handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().AddDate(0, 0, -30)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	report, err := h.engine.Usage(r.Context(), auth.UserID(r.Context()), auth.TokenFromContext(r.Context()), since)
	if err != nil {
		writeEngineError(w, r, "usage", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /api/transcribe (multipart: file, language_code)
func (h *handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	file, _, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	t, err := h.engine.Transcribe(ctx, auth.UserID(ctx), file, transcribe.Options{
		LanguageCode: r.FormValue("language_code"),
	})
	if err != nil {
		writeEngineError(w, r, "transcribe", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// POST /api/ocr (multipart: file)
func (h *handler) handleOCR(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Minute)
	defer cancel()

	file, _, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	md, err := h.engine.OCR(ctx, auth.UserID(ctx), data)
	if err != nil {
		writeEngineError(w, r, "ocr", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"markdown": md})
}

// POST /api/documents/analyze (multipart: file, question, mindmap)
func (h *handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	file, header, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	// Parsers work on paths; keep the original extension so the format is
	// still detectable from the temp file.
	safeName := filepath.Base(header.Filename)
	tmp, err := os.CreateTemp("", "mindforge-*"+filepath.Ext(safeName))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating temp file", "error", err)
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeError(w, http.StatusInternalServerError, "failed to save file")
		slog.Error("saving uploaded file", "error", err)
		return
	}
	tmp.Close()

	withMindmap, _ := strconv.ParseBool(r.FormValue("mindmap"))
	analysis, err := h.engine.AnalyzeDocument(ctx, auth.UserID(ctx), tmp.Name(), mindforge.AnalyzeOptions{
		Question: r.FormValue("question"),
		Mindmap:  withMindmap,
		Filename: safeName,
	})
	if err != nil {
		writeEngineError(w, r, "analyze", err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// formFile reads the "file" part of a multipart upload bounded by maxUpload.
func (h *handler) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return nil, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return nil, nil, false
	}
	return file, header, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage turns validator errors into a short client message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required", "required_without":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def, upper int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > upper {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be between 1 and %d", name, upper))
		return 0, false
	}
	return n, true
}

// writeEngineError maps engine errors to status codes. The detailed error is
// logged; clients get a generic message.
func writeEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := http.StatusInternalServerError, op+" failed"

	var relayErr *relay.StatusError
	switch {
	case errors.Is(err, mindforge.ErrEmptyTopic):
		status, msg = http.StatusBadRequest, "topic is required"
	case errors.Is(err, mindforge.ErrNoDiagram):
		status, msg = http.StatusUnprocessableEntity, "no diagram produced"
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "mindmap not found"
	case errors.Is(err, mindmap.ErrNodeNotFound):
		status, msg = http.StatusNotFound, "node not found"
	case errors.Is(err, mindmap.ErrCentralNode):
		status, msg = http.StatusConflict, "central node cannot be removed"
	case errors.Is(err, mindforge.ErrUnsupportedFormat):
		status, msg = http.StatusUnsupportedMediaType, "unsupported file format"
	case errors.Is(err, mindforge.ErrParsingFailed), errors.Is(err, transcribe.ErrEmptyAudio):
		status, msg = http.StatusUnprocessableEntity, "could not read file"
	case errors.Is(err, mindforge.ErrVisionRequired),
		errors.Is(err, mindforge.ErrSearchUnavailable),
		errors.Is(err, mindforge.ErrTranscriptionUnavailable):
		status, msg = http.StatusNotImplemented, "feature not configured"
	case errors.Is(err, relay.ErrUnauthorized), errors.Is(err, relay.ErrNoToken):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, relay.ErrModelLoading):
		status, msg = http.StatusServiceUnavailable, "model is loading, retry shortly"
	case errors.Is(err, relay.ErrUnavailable):
		status, msg = http.StatusServiceUnavailable, "backend unavailable"
	case errors.As(err, &relayErr), errors.Is(err, mindforge.ErrLLMRequestFailed):
		status, msg = http.StatusBadGateway, "upstream request failed"
	case errors.Is(err, transcribe.ErrTranscriptionFailed), errors.Is(err, transcribe.ErrTimeout):
		status, msg = http.StatusBadGateway, "transcription failed"
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, op+" timed out"
	}

	if status >= http.StatusInternalServerError {
		slog.Error(op+" error", "path", r.URL.Path, "error", err)
	} else {
		slog.Debug(op+" rejected", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
