// Package mindforge turns topics, transcripts and documents into mindmaps
// and relays chat to the hosted backend. Engine is the entry point used by
// the HTTP server and the CLI.
package mindforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brunobiangulo/mindforge/cache"
	"github.com/brunobiangulo/mindforge/llm"
	"github.com/brunobiangulo/mindforge/metrics"
	"github.com/brunobiangulo/mindforge/mindmap"
	"github.com/brunobiangulo/mindforge/parser"
	"github.com/brunobiangulo/mindforge/relay"
	"github.com/brunobiangulo/mindforge/store"
	"github.com/brunobiangulo/mindforge/transcribe"
)

// Engine is the main entry point of the service.
type Engine interface {
	// GenerateMindmap asks the chat model for an outline of the topic,
	// builds the graph and saves it for the user.
	GenerateMindmap(ctx context.Context, userID string, req GenerateRequest) (*store.Mindmap, error)

	// ParseMindmap builds a graph from text or a decoded JSON object
	// without calling a model. The result is saved when req.Save is set.
	ParseMindmap(ctx context.Context, userID string, req ParseRequest) (*ParsedMindmap, error)

	ListMindmaps(ctx context.Context, userID string, limit int) ([]store.Mindmap, error)
	GetMindmap(ctx context.Context, userID, id string) (*store.Mindmap, error)
	DeleteMindmap(ctx context.Context, userID, id string) error

	// SearchMindmaps ranks the user's mindmaps by topic similarity.
	SearchMindmaps(ctx context.Context, userID, query string, k int) ([]store.SearchResult, error)

	// MoveNode and RemoveNode edit a saved graph.
	MoveNode(ctx context.Context, userID, id, nodeID string, pos mindmap.Position) (*store.Mindmap, error)
	RemoveNode(ctx context.Context, userID, id, nodeID string) (*store.Mindmap, []string, error)

	// Chat forwards a message to the backend with the caller's token, or
	// to the chat model when no backend is configured.
	Chat(ctx context.Context, userID, token string, req relay.ChatRequest) (*relay.ChatResponse, error)

	// Usage reports local usage since the given time and, when a backend
	// is configured, the backend's metering.
	Usage(ctx context.Context, userID, token string, since time.Time) (*UsageReport, error)

	Transcribe(ctx context.Context, userID string, audio io.Reader, opts transcribe.Options) (*transcribe.Transcript, error)

	// OCR returns the markdown transcription of an image.
	OCR(ctx context.Context, userID string, image []byte) (string, error)

	// AnalyzeDocument parses the file at path and asks the chat model for
	// an analysis, plus a mindmap when requested.
	AnalyzeDocument(ctx context.Context, userID, path string, opts AnalyzeOptions) (*Analysis, error)

	// Close cleanly shuts down the engine.
	Close() error
}

// GenerateRequest asks for a mindmap of a topic. Empty Layout and Shape use
// the configured defaults.
type GenerateRequest struct {
	Topic  string `json:"topic"`
	Layout string `json:"layout,omitempty"`
	Shape  string `json:"shape,omitempty"`
}

// ParseRequest carries a model response produced elsewhere.
type ParseRequest struct {
	Text   string          `json:"text,omitempty"`
	Object json.RawMessage `json:"object,omitempty"`
	Topic  string          `json:"topic,omitempty"`
	Layout string          `json:"layout,omitempty"`
	Save   bool            `json:"save,omitempty"`
}

// ParsedMindmap is the result of ParseMindmap. ID is set when it was saved.
type ParsedMindmap struct {
	ID string `json:"id,omitempty"`
	mindmap.Result
}

// UsageReport combines local metering with the backend's.
type UsageReport struct {
	Since   time.Time          `json:"since"`
	Totals  []store.UsageTotal `json:"totals"`
	Backend *relay.Usage       `json:"backend,omitempty"`
}

// AnalyzeOptions tune AnalyzeDocument.
type AnalyzeOptions struct {
	// Question focuses the analysis; empty asks for a general summary.
	Question string
	// Mindmap also builds and saves a mindmap of the document.
	Mindmap bool
	// Filename names the document when path is a temporary upload.
	Filename string
}

// Analysis is the result of AnalyzeDocument.
type Analysis struct {
	Filename  string         `json:"filename"`
	Method    string         `json:"method"`
	Sections  int            `json:"sections"`
	Truncated bool           `json:"truncated"`
	Text      string         `json:"analysis"`
	Mindmap   *store.Mindmap `json:"mindmap,omitempty"`
}

// Backend is the chat/usage service reached through the relay.
type Backend interface {
	Chat(ctx context.Context, token string, req relay.ChatRequest) (*relay.ChatResponse, error)
	Usage(ctx context.Context, token string) (*relay.Usage, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, opts transcribe.Options) (*transcribe.Transcript, error)
}

// Option overrides a collaborator built from Config.
type Option func(*engine)

// WithChatProvider sets the model used for generation, chat and analysis.
func WithChatProvider(p llm.Provider) Option {
	return func(e *engine) { e.chatLLM = p }
}

// WithEmbedder sets the embedding provider used for semantic search.
func WithEmbedder(p llm.Provider) Option {
	return func(e *engine) { e.embedLLM = p }
}

// WithVision sets the vision provider used for OCR.
func WithVision(p llm.VisionProvider) Option {
	return func(e *engine) { e.visionLLM = p }
}

// WithBackend sets the chat/usage backend.
func WithBackend(b Backend) Option {
	return func(e *engine) { e.backend = b }
}

// WithTranscriber sets the speech-to-text client.
func WithTranscriber(t Transcriber) Option {
	return func(e *engine) { e.transcriber = t }
}

// WithCache sets the completion cache.
func WithCache(c cache.Cache) Option {
	return func(e *engine) { e.cache = c }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg         Config
	opts        mindmap.Options
	store       *store.Store
	chatLLM     llm.Provider
	embedLLM    llm.Provider
	visionLLM   llm.VisionProvider
	backend     Backend
	transcriber Transcriber
	cache       cache.Cache
	parsers     *parser.Registry
	images      *parser.ImageParser
}

// New creates an engine from cfg. Options replace the collaborators cfg
// would build.
func New(ctx context.Context, cfg Config, options ...Option) (Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg, opts: cfg.mindmapOptions()}
	for _, o := range options {
		o(e)
	}

	var err error
	if e.chatLLM == nil {
		if e.chatLLM, err = llm.NewProvider(cfg.Chat); err != nil {
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
	}
	if e.embedLLM == nil && cfg.Embedding.Provider != "" {
		if e.embedLLM, err = llm.NewProvider(cfg.Embedding); err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}
	if e.visionLLM == nil && cfg.Vision.Provider != "" {
		if e.visionLLM, err = llm.NewVisionProvider(cfg.Vision); err != nil {
			return nil, fmt.Errorf("creating vision provider: %w", err)
		}
	}
	if e.backend == nil && cfg.Backend.BaseURL != "" {
		e.backend = relay.New(cfg.Backend)
	}
	if e.transcriber == nil && cfg.AssemblyAI.APIKey != "" {
		e.transcriber = transcribe.New(cfg.AssemblyAI)
	}
	if e.cache == nil {
		if e.cache, err = cache.New(ctx, cfg.Cache); err != nil {
			return nil, fmt.Errorf("creating cache: %w", err)
		}
	}

	e.parsers = parser.NewRegistry()
	if e.visionLLM != nil {
		e.parsers.SetVision(e.visionLLM, cfg.Vision.Model)
		e.images = parser.NewImageParser(e.visionLLM, cfg.Vision.Model)
	}

	if e.store, err = store.New(cfg.resolveDBPath(), cfg.Store.EmbeddingDim); err != nil {
		e.cache.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return e, nil
}

// --- Mindmaps ---

func (e *engine) GenerateMindmap(ctx context.Context, userID string, req GenerateRequest) (*store.Mindmap, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	opts, err := e.layoutOptions(req.Layout)
	if err != nil {
		return nil, err
	}
	shape, err := mindmap.ParseShape(firstNonEmpty(req.Shape, e.cfg.Mindmap.Shape))
	if err != nil {
		return nil, err
	}

	prompt := mindmap.Prompt(topic, shape)
	key := cache.Key(e.cfg.Chat.Model, string(shape), prompt)

	text, hit := e.cache.Get(ctx, key)
	if !hit {
		chatReq := llm.ChatRequest{
			Messages:    []llm.Message{{Role: "user", Content: prompt}},
			Temperature: e.cfg.Mindmap.Temperature,
			MaxTokens:   e.cfg.Mindmap.MaxTokens,
		}
		if shape == mindmap.ShapeJSON {
			chatReq.ResponseFormat = "json_object"
		}
		start := time.Now()
		resp, err := e.chatLLM.Chat(ctx, chatReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
		}
		slog.Info("mindmap: completion received",
			"topic", topic, "shape", shape, "tokens", resp.TotalTokens,
			"elapsed", time.Since(start).Round(time.Millisecond))
		e.recordUsage(ctx, userID, "mindmap", resp)
		text = resp.Content
	}

	result := e.adapt(mindmap.Response{Text: text}, topic, opts)
	if result.Graph.IsEmpty() {
		return nil, ErrNoDiagram
	}
	if !hit {
		e.cache.Set(ctx, key, text)
	}

	m, err := e.store.CreateMindmap(ctx, store.Mindmap{
		UserID: userID,
		Topic:  topic,
		Layout: string(opts.Layout),
		Shape:  string(shape),
		Source: "llm",
		Model:  e.cfg.Chat.Model,
		Graph:  result.Graph,
	})
	if err != nil {
		return nil, fmt.Errorf("saving mindmap: %w", err)
	}
	e.embedTopic(ctx, m.ID, topic)
	return &m, nil
}

func (e *engine) ParseMindmap(ctx context.Context, userID string, req ParseRequest) (*ParsedMindmap, error) {
	opts, err := e.layoutOptions(req.Layout)
	if err != nil {
		return nil, err
	}

	result := e.adapt(mindmap.Response{Text: req.Text, Object: req.Object}, req.Topic, opts)
	out := &ParsedMindmap{Result: result}
	if result.Graph.IsEmpty() {
		return out, ErrNoDiagram
	}
	if !req.Save {
		return out, nil
	}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		if root, ok := result.Graph.Central(); ok {
			topic = root.Label()
		}
	}
	m, err := e.store.CreateMindmap(ctx, store.Mindmap{
		UserID: userID,
		Topic:  topic,
		Layout: string(opts.Layout),
		Shape:  string(result.Outline.Kind),
		Source: "text",
		Graph:  result.Graph,
	})
	if err != nil {
		return nil, fmt.Errorf("saving mindmap: %w", err)
	}
	e.embedTopic(ctx, m.ID, topic)
	out.ID = m.ID
	return out, nil
}

func (e *engine) ListMindmaps(ctx context.Context, userID string, limit int) ([]store.Mindmap, error) {
	return e.store.ListMindmaps(ctx, userID, limit)
}

func (e *engine) GetMindmap(ctx context.Context, userID, id string) (*store.Mindmap, error) {
	return e.store.GetMindmap(ctx, userID, id)
}

func (e *engine) DeleteMindmap(ctx context.Context, userID, id string) error {
	return e.store.DeleteMindmap(ctx, userID, id)
}

func (e *engine) SearchMindmaps(ctx context.Context, userID, query string, k int) ([]store.SearchResult, error) {
	if e.embedLLM == nil {
		return nil, ErrSearchUnavailable
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []store.SearchResult{}, nil
	}
	vecs, err := e.embedLLM.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrLLMRequestFailed)
	}
	return e.store.SearchSimilar(ctx, userID, vecs[0], k)
}

func (e *engine) MoveNode(ctx context.Context, userID, id, nodeID string, pos mindmap.Position) (*store.Mindmap, error) {
	m, err := e.store.GetMindmap(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := m.Graph.MoveNode(nodeID, pos); err != nil {
		return nil, err
	}
	if err := e.store.UpdateGraph(ctx, userID, id, m.Graph); err != nil {
		return nil, err
	}
	return e.store.GetMindmap(ctx, userID, id)
}

func (e *engine) RemoveNode(ctx context.Context, userID, id, nodeID string) (*store.Mindmap, []string, error) {
	m, err := e.store.GetMindmap(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	removed, err := m.Graph.RemoveNode(nodeID)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Graph.Validate(); err != nil {
		return nil, nil, err
	}
	if err := e.store.UpdateGraph(ctx, userID, id, m.Graph); err != nil {
		return nil, nil, err
	}
	updated, err := e.store.GetMindmap(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, removed, nil
}

// adapt runs the mindmap transformation and records its outcome.
func (e *engine) adapt(r mindmap.Response, topic string, opts mindmap.Options) mindmap.Result {
	result := mindmap.Adapt(r, topic, opts)
	metrics.OutlineParses.WithLabelValues(string(result.Outline.Kind)).Inc()
	if !result.Graph.IsEmpty() {
		metrics.MindmapsGenerated.WithLabelValues(string(opts.Layout), string(result.Outline.Kind)).Inc()
	}
	return result
}

func (e *engine) layoutOptions(layout string) (mindmap.Options, error) {
	opts := e.opts
	if layout != "" {
		l, err := mindmap.ParseLayout(layout)
		if err != nil {
			return opts, err
		}
		opts.Layout = l
	}
	return opts, nil
}

// embedTopic stores the topic embedding used by search. Failures only cost
// searchability, so they are logged.
func (e *engine) embedTopic(ctx context.Context, id, topic string) {
	if e.embedLLM == nil || topic == "" {
		return
	}
	vecs, err := e.embedLLM.Embed(ctx, []string{topic})
	if err != nil || len(vecs) == 0 {
		slog.Warn("mindmap: embedding failed (non-fatal)", "id", id, "error", err)
		return
	}
	if err := e.store.SetEmbedding(ctx, id, vecs[0]); err != nil {
		slog.Warn("mindmap: storing embedding failed (non-fatal)", "id", id, "error", err)
	}
}

// --- Chat and usage ---

func (e *engine) Chat(ctx context.Context, userID, token string, req relay.ChatRequest) (*relay.ChatResponse, error) {
	if e.backend != nil {
		resp, err := e.backend.Chat(ctx, token, req)
		if err != nil {
			return nil, err
		}
		e.record(ctx, store.UsageRecord{
			UserID:      userID,
			Kind:        "chat",
			Model:       req.Model,
			TotalTokens: resp.TokensUsed,
		})
		return resp, nil
	}

	msgs := make([]llm.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: req.Message})

	resp, err := e.chatLLM.Chat(ctx, llm.ChatRequest{Model: req.Model, Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
	}
	e.recordUsage(ctx, userID, "chat", resp)
	return &relay.ChatResponse{
		Response:       resp.Content,
		ConversationID: req.ConversationID,
		TokensUsed:     resp.TotalTokens,
	}, nil
}

func (e *engine) Usage(ctx context.Context, userID, token string, since time.Time) (*UsageReport, error) {
	totals, err := e.store.UsageSummary(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("reading usage: %w", err)
	}
	report := &UsageReport{Since: since, Totals: totals}

	if e.backend != nil {
		u, err := e.backend.Usage(ctx, token)
		if err != nil {
			if errors.Is(err, relay.ErrUnauthorized) {
				return nil, err
			}
			slog.Warn("usage: backend usage unavailable", "error", err)
		} else {
			report.Backend = u
		}
	}
	return report, nil
}

func (e *engine) recordUsage(ctx context.Context, userID, kind string, resp *llm.ChatResponse) {
	e.record(ctx, store.UsageRecord{
		UserID:           userID,
		Kind:             kind,
		Model:            resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
	})
}

// record stores a usage record. Metering never fails the request.
func (e *engine) record(ctx context.Context, r store.UsageRecord) {
	if err := e.store.RecordUsage(ctx, r); err != nil {
		slog.Warn("usage: record failed", "kind", r.Kind, "error", err)
	}
}

// --- Transcription, OCR, documents ---

func (e *engine) Transcribe(ctx context.Context, userID string, audio io.Reader, opts transcribe.Options) (*transcribe.Transcript, error) {
	if e.transcriber == nil {
		return nil, ErrTranscriptionUnavailable
	}
	if opts.LanguageCode == "" {
		opts.LanguageCode = e.cfg.AssemblyAI.LanguageCode
	}
	t, err := e.transcriber.Transcribe(ctx, audio, opts)
	if err != nil {
		return nil, err
	}
	e.record(ctx, store.UsageRecord{UserID: userID, Kind: "transcription", Model: "assemblyai"})
	return t, nil
}

func (e *engine) OCR(ctx context.Context, userID string, image []byte) (string, error) {
	if e.images == nil {
		return "", ErrVisionRequired
	}
	md, err := e.images.OCR(ctx, image)
	if err != nil {
		return "", err
	}
	e.record(ctx, store.UsageRecord{UserID: userID, Kind: "ocr", Model: e.cfg.Vision.Model})
	return md, nil
}

const analysisPrompt = `You are a careful analyst. Read the document below and write a structured analysis in markdown:
- a short summary (3 to 5 sentences);
- the key points, as a bullet list;
- notable figures, dates or named entities, if any.

Answer in the language of the document.%s

DOCUMENT (%s):
%s`

func (e *engine) AnalyzeDocument(ctx context.Context, userID, path string, opts AnalyzeOptions) (*Analysis, error) {
	name := firstNonEmpty(opts.Filename, filepath.Base(path))
	format := parser.FormatOf(name)

	p, err := e.parsers.Get(format)
	if err != nil {
		if isImageFormat(format) {
			return nil, ErrVisionRequired
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	start := time.Now()
	parsed, err := p.Parse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	slog.Info("analyze: parsing complete",
		"file", name, "method", parsed.Method,
		"sections", len(parsed.Sections), "elapsed", time.Since(start).Round(time.Millisecond))

	text, truncated := truncateRunes(parsed.Text(), e.cfg.Analysis.MaxChars)
	if text == "" {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, parser.ErrNoText)
	}

	focus := ""
	if q := strings.TrimSpace(opts.Question); q != "" {
		focus = "\nFocus the analysis on this question: " + q
	}
	resp, err := e.chatLLM.Chat(ctx, llm.ChatRequest{
		Messages:  []llm.Message{{Role: "user", Content: fmt.Sprintf(analysisPrompt, focus, name, text)}},
		MaxTokens: e.cfg.Analysis.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
	}
	e.recordUsage(ctx, userID, "analysis", resp)

	out := &Analysis{
		Filename:  name,
		Method:    parsed.Method,
		Sections:  len(parsed.Sections),
		Truncated: truncated,
		Text:      strings.TrimSpace(resp.Content),
	}
	if opts.Mindmap {
		m, err := e.documentMindmap(ctx, userID, name, text)
		if err != nil && !errors.Is(err, ErrNoDiagram) {
			return nil, err
		}
		out.Mindmap = m
	}
	return out, nil
}

func (e *engine) documentMindmap(ctx context.Context, userID, name, text string) (*store.Mindmap, error) {
	resp, err := e.chatLLM.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: mindmap.DocumentPrompt(text)}},
		Temperature:    e.cfg.Mindmap.Temperature,
		MaxTokens:      e.cfg.Mindmap.MaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
	}
	e.recordUsage(ctx, userID, "mindmap", resp)

	topic := strings.TrimSuffix(name, filepath.Ext(name))
	result := e.adapt(mindmap.Response{Text: resp.Content}, topic, e.opts)
	if result.Graph.IsEmpty() {
		return nil, ErrNoDiagram
	}
	m, err := e.store.CreateMindmap(ctx, store.Mindmap{
		UserID: userID,
		Topic:  topic,
		Layout: string(e.opts.Layout),
		Shape:  string(mindmap.ShapeJSON),
		Source: "document",
		Model:  e.cfg.Chat.Model,
		Graph:  result.Graph,
	})
	if err != nil {
		return nil, fmt.Errorf("saving mindmap: %w", err)
	}
	e.embedTopic(ctx, m.ID, topic)
	return &m, nil
}

// Close cleanly shuts down the engine.
func (e *engine) Close() error {
	var errs []error
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}

func isImageFormat(format string) bool {
	switch format {
	case "png", "jpg", "jpeg", "webp", "gif":
		return true
	}
	return false
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
