package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/mindforge"
	"github.com/brunobiangulo/mindforge/auth"
	"github.com/brunobiangulo/mindforge/mindmap"
	"github.com/brunobiangulo/mindforge/relay"
	"github.com/brunobiangulo/mindforge/store"
	"github.com/brunobiangulo/mindforge/transcribe"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	mindforge.Engine

	userID    string
	token     string
	parseReq  mindforge.ParseRequest
	chatReq   relay.ChatRequest
	moved     mindmap.Position
	analyzed  mindforge.AnalyzeOptions
	ocrBytes  []byte
	audio     string
	usageFrom time.Time
	err       error
}

func sampleMindmap(id string) *store.Mindmap {
	return &store.Mindmap{
		ID:    id,
		Topic: "Energy",
		Graph: mindmap.Build(mindmap.ParseBullets("- Solar\n* Panels\n- Wind"), "Energy", mindmap.DefaultOptions()),
	}
}

func (f *fakeEngine) GenerateMindmap(ctx context.Context, userID string, req mindforge.GenerateRequest) (*store.Mindmap, error) {
	f.userID = userID
	if f.err != nil {
		return nil, f.err
	}
	return sampleMindmap("m-1"), nil
}

func (f *fakeEngine) ParseMindmap(ctx context.Context, userID string, req mindforge.ParseRequest) (*mindforge.ParsedMindmap, error) {
	f.parseReq = req
	res := mindmap.Adapt(mindmap.Response{Text: req.Text, Object: req.Object}, req.Topic, mindmap.DefaultOptions())
	out := &mindforge.ParsedMindmap{Result: res}
	if res.Graph.IsEmpty() {
		return out, mindforge.ErrNoDiagram
	}
	if req.Save {
		out.ID = "saved-1"
	}
	return out, nil
}

func (f *fakeEngine) ListMindmaps(ctx context.Context, userID string, limit int) ([]store.Mindmap, error) {
	return []store.Mindmap{*sampleMindmap("m-1")}, nil
}

func (f *fakeEngine) GetMindmap(ctx context.Context, userID, id string) (*store.Mindmap, error) {
	if id != "m-1" {
		return nil, store.ErrNotFound
	}
	return sampleMindmap(id), nil
}

func (f *fakeEngine) DeleteMindmap(ctx context.Context, userID, id string) error {
	return f.err
}

func (f *fakeEngine) SearchMindmaps(ctx context.Context, userID, query string, k int) ([]store.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []store.SearchResult{{Mindmap: *sampleMindmap("m-1"), Score: 0.9}}, nil
}

func (f *fakeEngine) MoveNode(ctx context.Context, userID, id, nodeID string, pos mindmap.Position) (*store.Mindmap, error) {
	f.moved = pos
	return sampleMindmap(id), nil
}

func (f *fakeEngine) RemoveNode(ctx context.Context, userID, id, nodeID string) (*store.Mindmap, []string, error) {
	if nodeID == "root" {
		return nil, nil, fmt.Errorf("removing node: %w", mindmap.ErrCentralNode)
	}
	return sampleMindmap(id), []string{nodeID}, nil
}

func (f *fakeEngine) Chat(ctx context.Context, userID, token string, req relay.ChatRequest) (*relay.ChatResponse, error) {
	f.userID, f.token, f.chatReq = userID, token, req
	if f.err != nil {
		return nil, f.err
	}
	return &relay.ChatResponse{Response: "hello", TokensUsed: 7}, nil
}

func (f *fakeEngine) Usage(ctx context.Context, userID, token string, since time.Time) (*mindforge.UsageReport, error) {
	f.usageFrom = since
	return &mindforge.UsageReport{Since: since, Totals: []store.UsageTotal{{Kind: "chat", Requests: 2}}}, nil
}

func (f *fakeEngine) Transcribe(ctx context.Context, userID string, audio io.Reader, opts transcribe.Options) (*transcribe.Transcript, error) {
	data, _ := io.ReadAll(audio)
	f.audio = string(data)
	return &transcribe.Transcript{ID: "t-1", Status: "completed", Text: "bonjour"}, nil
}

func (f *fakeEngine) OCR(ctx context.Context, userID string, image []byte) (string, error) {
	f.ocrBytes = image
	if f.err != nil {
		return "", f.err
	}
	return "# Scan", nil
}

func (f *fakeEngine) AnalyzeDocument(ctx context.Context, userID, path string, opts mindforge.AnalyzeOptions) (*mindforge.Analysis, error) {
	f.analyzed = opts
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if filepath.Ext(path) != filepath.Ext(opts.Filename) {
		return nil, mindforge.ErrUnsupportedFormat
	}
	return &mindforge.Analysis{Filename: opts.Filename, Method: "native", Text: "summary"}, nil
}

func newTestServer(t *testing.T, engine mindforge.Engine, cfg auth.Config) *httptest.Server {
	t.Helper()
	v, err := auth.NewVerifier(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(newRouter(newHandler(engine, 1<<20), v, []string{"http://localhost:3000"}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp, out
}

func multipartRequest(t *testing.T, url, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, auth.Config{Secret: "s3cret"})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "mindforge_http_requests_total")
}

func TestAuthRequired(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, auth.Config{Secret: "s3cret"})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/mindmaps", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["error"])

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user_42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/chat", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, body = send(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", body["response"])
	assert.Equal(t, "user_42", engine.userID)
	assert.Equal(t, token, engine.token, "the caller's token is relayed")
}

func TestGenerateMindmap(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, auth.Config{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/mindmaps", `{"topic":"Energy"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "m-1", body["id"])
	assert.Equal(t, auth.DevUserID, engine.userID)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestGenerateMindmapValidation(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, auth.Config{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing topic", `{}`, "topic is required"},
		{"bad layout", `{"topic":"x","layout":"spiral"}`, "layout must be one of: radial chained"},
		{"bad shape", `{"topic":"x","shape":"xml"}`, "shape must be one of: json bullets"},
		{"not json", `topic=x`, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/mindmaps", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestGenerateMindmapEngineErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{mindforge.ErrEmptyTopic, http.StatusBadRequest},
		{mindforge.ErrNoDiagram, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: timeout", mindforge.ErrLLMRequestFailed), http.StatusBadGateway},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			srv := newTestServer(t, &fakeEngine{err: tt.err}, auth.Config{})
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/mindmaps", `{"topic":"Energy"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "disk full")
		})
	}
}

func TestParseMindmap(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, auth.Config{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/mindmaps/parse",
		`{"text":"- Topic A\n* Sub 1\n* Sub 2\n- Topic B","topic":"Demo"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["nodes"], 5)
	assert.Len(t, body["edges"], 4)
	assert.Equal(t, "", body["id"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/mindmaps/parse",
		`{"object":{"Concept Central":"X","Y":["y1","y2"]},"save":true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "saved-1", body["id"])
	assert.Len(t, body["edges"], 3)
	assert.JSONEq(t, `{"Concept Central":"X","Y":["y1","y2"]}`, string(engine.parseReq.Object))
}

func TestParseMindmapNoDiagram(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, auth.Config{})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/mindmaps/parse",
		strings.NewReader(`{"text":"Just some prose without structure."}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"no diagram produced","nodes":[],"edges":[]}`, string(data))
}

func TestParseMindmapRequiresInput(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, auth.Config{})
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/mindmaps/parse", `{"topic":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "text is required", body["error"])
}

func TestMindmapCRUD(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, auth.Config{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/mindmaps?limit=5", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["mindmaps"], 1)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/mindmaps?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/mindmaps/m-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Energy", body["topic"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/mindmaps/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "mindmap not found", body["error"])

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/mindmaps/m-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deleted", body["status"])
}

func TestNodeEdits(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, auth.Config{})

	resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/api/mindmaps/m-1/nodes/m1", `{"x":0,"y":-40.5}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, mindmap.Position{X: 0, Y: -40.5}, engine.moved)

	resp, body := doJSON(t, http.MethodPatch, srv.URL+"/api/mindmaps/m-1/nodes/m1", `{"x":3}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "y is required", body["error"])

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/mindmaps/m-1/nodes/m1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{"m1"}, body["removed"])

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/mindmaps/m-1/nodes/root", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSearch(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, auth.Config{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/mindmaps/search?q=solar", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["results"], 1)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/mindmaps/search", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	srv = newTestServer(t, &fakeEngine{err: mindforge.ErrSearchUnavailable}, auth.Config{})
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/mindmaps/search?q=solar", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{relay.ErrUnauthorized, http.StatusUnauthorized},
		{relay.ErrModelLoading, http.StatusServiceUnavailable},
		{relay.ErrUnavailable, http.StatusServiceUnavailable},
		{&relay.StatusError{Code: 500, Body: "boom"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			srv := newTestServer(t, &fakeEngine{err: tt.err}, auth.Config{})
			resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{"message":"hi"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestChatHistoryValidation(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, auth.Config{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/chat",
		`{"message":"and then?","history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, engine.chatReq.History, 2)
	assert.Equal(t, "assistant", engine.chatReq.History[1].Role)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/chat",
		`{"message":"x","history":[{"role":"robot","content":"hi"}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUsage(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, auth.Config{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/usage?since=2026-01-01T00:00:00Z", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["totals"], 1)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), engine.usageFrom.UTC())

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/usage?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranscribeUpload(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, auth.Config{})

	resp, body := send(t, multipartRequest(t, srv.URL+"/api/transcribe", "memo.mp3", []byte("RIFF-audio"), nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bonjour", body["text"])
	assert.Equal(t, "RIFF-audio", engine.audio)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/transcribe", strings.NewReader("raw"))
	require.NoError(t, err)
	resp, _ = send(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOCRUpload(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, auth.Config{})

	resp, body := send(t, multipartRequest(t, srv.URL+"/api/ocr", "scan.png", []byte("\x89PNG"), nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# Scan", body["markdown"])
	assert.Equal(t, []byte("\x89PNG"), engine.ocrBytes)

	srv = newTestServer(t, &fakeEngine{err: mindforge.ErrVisionRequired}, auth.Config{})
	resp, _ = send(t, multipartRequest(t, srv.URL+"/api/ocr", "scan.png", []byte("\x89PNG"), nil))
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestUploadTooLarge(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, auth.Config{})
	resp, body := send(t, multipartRequest(t, srv.URL+"/api/ocr", "big.png", bytes.Repeat([]byte("x"), 2<<20), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "file too large", body["error"])
}

func TestAnalyzeUpload(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, auth.Config{})

	req := multipartRequest(t, srv.URL+"/api/documents/analyze", "../../report.md", []byte("# Title\nBody"),
		map[string]string{"question": "What changed?", "mindmap": "true"})
	resp, body := send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "summary", body["analysis"])
	assert.Equal(t, "report.md", engine.analyzed.Filename)
	assert.Equal(t, "What changed?", engine.analyzed.Question)
	assert.True(t, engine.analyzed.Mindmap)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, auth.Config{Secret: "s3cret"})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/mindmaps", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, _ := send(t, req)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
