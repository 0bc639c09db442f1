// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs one conversational turn end to end: resolve a backend,
// make sure the model is present (pulling it if not), assemble the thread
// context, stream the generation, and persist both sides of the exchange.
//
// The package owns no UI. Callers supply a Progress sink for throttled
// status updates and an optional Token for cooperative cancellation.
package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexy7574/college-bot-v2/internal/history"
	"github.com/nexy7574/college-bot-v2/internal/ollama"
	"github.com/nexy7574/college-bot-v2/internal/pool"
	"github.com/nexy7574/college-bot-v2/internal/util"
)

// =============================================================================
// TUNABLES
// =============================================================================

const (
	// failoverAttempts bounds the hunt for a live backend once the selected
	// one fails its probe.
	failoverAttempts = 10
	// failoverDelay spaces out consecutive probes during failover.
	failoverDelay = time.Second
	// updateInterval throttles Progress callbacks. Slightly above five
	// seconds keeps a Discord edit loop under the global rate limit.
	updateInterval = 5100 * time.Millisecond
	// displayCeiling caps the rolling visible buffer handed to Progress.
	// Discord embed descriptions top out at 4096 characters.
	displayCeiling = 4096
	// MaxImageBytes caps attached images, matching Discord's upload limit.
	MaxImageBytes = 25 << 20
)

// ServerAuto asks the orchestrator to pick the next backend in rotation.
const ServerAuto = "next"

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// Image is a user-attached image destined for a multimodal model.
type Image struct {
	ContentType string
	Data        []byte
}

// Request describes one turn.
type Request struct {
	// Member is the Discord user id issuing the turn.
	Member string
	// Query is the user's message.
	Query string
	// Model is the requested model id, normalized before use.
	Model string
	// Server names a configured backend, or ServerAuto / empty for
	// round-robin selection.
	Server string
	// ThreadID continues an existing thread when set; otherwise a fresh
	// thread is created.
	ThreadID string
	// GiveAcid cranks the sampling parameters for intentionally unhinged
	// output.
	GiveAcid bool
	// Image is an optional attachment.
	Image *Image
}

// Stats carries the backend's final-event counters.
type Stats struct {
	TotalDuration      time.Duration
	LoadDuration       time.Duration
	PromptEvalDuration time.Duration
	EvalDuration       time.Duration
	PromptTokens       int
	CompletionTokens   int
}

// Result is a completed turn.
type Result struct {
	ThreadID string
	Content  string
	Model    string
	Server   pool.Server
	// Stats is nil when the backend's final event carried no counters.
	Stats *Stats
}

// Progress receives throttled updates while a turn runs. Implementations
// must tolerate being called from the orchestrator's goroutine.
type Progress interface {
	// Status reports a coarse state change (probing, failing over).
	Status(text string)
	// Pulling reports model download progress as a percentage; percent is
	// 50.0 when the backend gives no byte counts.
	Pulling(status string, percent float64)
	// Generating reports the rolling tail of the response, already capped
	// to the display ceiling.
	Generating(visible string)
}

// NopProgress discards all updates.
type NopProgress struct{}

func (NopProgress) Status(string)           {}
func (NopProgress) Pulling(string, float64) {}
func (NopProgress) Generating(string)       {}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives turns against the backend pool.
type Orchestrator struct {
	pool    *pool.Pool
	history *history.Store
	log     *zap.Logger

	// newClient is swappable for tests.
	newClient func(baseURL string) *ollama.Client

	failoverDelay  time.Duration
	updateInterval time.Duration
}

func New(p *pool.Pool, h *history.Store, log *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		pool:           p,
		history:        h,
		log:            log,
		failoverDelay:  failoverDelay,
		updateInterval: updateInterval,
	}
	o.newClient = func(baseURL string) *ollama.Client {
		return ollama.NewClient(baseURL, log)
	}
	return o
}

// Run executes one full turn. It returns a *TurnError for every failure
// the caller is expected to render, classified by Kind.
func (o *Orchestrator) Run(ctx context.Context, req Request, prog Progress, tok *Token) (*Result, error) {
	if prog == nil {
		prog = NopProgress{}
	}
	if err := validateImage(req.Image); err != nil {
		return nil, err
	}
	model := ollama.NormalizeModel(req.Model)

	srv, client, err := o.resolveBackend(ctx, req.Server, model, prog, tok)
	if err != nil {
		return nil, err
	}

	log := o.log.With(
		zap.String("server", srv.Key),
		zap.String("model", model),
		zap.String("member", req.Member),
	)

	if err := o.ensureModel(ctx, client, model, prog, tok); err != nil {
		return nil, err
	}

	thread, err := o.resolveThread(req)
	if err != nil {
		return nil, err
	}
	payload := buildPayload(model, thread, req)

	log.Info("starting generation",
		zap.String("thread", thread.ID),
		zap.Int("context_messages", len(payload.Messages)),
	)
	content, stats, err := o.streamGenerate(client, payload, prog, tok)
	if err != nil {
		return nil, err
	}

	if err := o.persistTurn(thread.ID, req, content); err != nil {
		return nil, err
	}
	log.Info("generation complete",
		zap.String("thread", thread.ID),
		zap.Int("response_chars", len(content)),
	)
	return &Result{
		ThreadID: thread.ID,
		Content:  content,
		Model:    model,
		Server:   srv,
		Stats:    stats,
	}, nil
}

// =============================================================================
// BACKEND RESOLUTION
// =============================================================================

func validateImage(img *Image) error {
	if img == nil {
		return nil
	}
	if !strings.HasPrefix(img.ContentType, "image/") {
		return turnErr(KindAttachmentType,
			fmt.Sprintf("attachment type %q is not an image", img.ContentType))
	}
	if len(img.Data) > MaxImageBytes {
		return turnErr(KindAttachmentTooLarge,
			fmt.Sprintf("attachment is %d bytes, limit is %d", len(img.Data), MaxImageBytes))
	}
	return nil
}

// resolveBackend picks a backend, verifies the model against its allow-list,
// and probes it, walking the rotation when the probe fails.
func (o *Orchestrator) resolveBackend(ctx context.Context, serverKey, model string, prog Progress, tok *Token) (pool.Server, *ollama.Client, error) {
	var srv pool.Server
	switch serverKey {
	case "", ServerAuto:
		key := o.pool.Next(true)
		if key == "" {
			return srv, nil, turnErr(KindInvalidServer, "no chat backends are configured")
		}
		srv, _ = o.pool.Get(key)
	default:
		var ok bool
		if srv, ok = o.pool.Get(serverKey); !ok {
			return srv, nil, turnErr(KindInvalidServer,
				fmt.Sprintf("unknown server %q", serverKey))
		}
	}
	if !srv.AllowsModel(model) {
		return srv, nil, notAllowedErr(srv, model)
	}

	client := o.newClient(srv.BaseURL)
	if client.CheckServer(ctx) {
		return srv, client, nil
	}

	prog.Status(fmt.Sprintf("%s is offline, looking for another server...", srv.Key))
	o.log.Warn("selected backend failed liveness probe, failing over",
		zap.String("server", srv.Key))
	for attempt := 1; attempt <= failoverAttempts; attempt++ {
		if tok.Cancelled() {
			return srv, nil, turnErr(KindCancelled, "turn cancelled")
		}
		select {
		case <-ctx.Done():
			return srv, nil, turnErrWrap(KindCancelled, "turn cancelled", ctx.Err())
		case <-time.After(o.failoverDelay):
		}

		key := o.pool.Next(true)
		next, ok := o.pool.Get(key)
		if !ok {
			continue
		}
		prog.Status(fmt.Sprintf("Trying %s (%d/%d)...", key, attempt, failoverAttempts))
		c := o.newClient(next.BaseURL)
		if c.CheckServer(ctx) {
			if !next.AllowsModel(model) {
				return next, nil, notAllowedErr(next, model)
			}
			o.log.Info("failed over to live backend",
				zap.String("server", key), zap.Int("attempt", attempt))
			return next, c, nil
		}
	}
	return srv, nil, turnErr(KindAllServersOffline,
		fmt.Sprintf("no live server found after %d attempts", failoverAttempts))
}

func notAllowedErr(srv pool.Server, model string) *TurnError {
	return turnErr(KindModelNotAllowed, fmt.Sprintf(
		"%s does not allow the model %q. Allowed: %s",
		srv.Key, model, strings.Join(srv.AllowedModels, ", ")))
}

// =============================================================================
// MODEL PRESENCE
// =============================================================================

func (o *Orchestrator) ensureModel(ctx context.Context, client *ollama.Client, model string, prog Progress, tok *Token) error {
	err := client.ShowModel(ctx, model)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ollama.ErrModelMissing):
		return o.pullModel(ctx, client, model, prog, tok)
	default:
		var herr *ollama.HTTPError
		if errors.As(err, &herr) {
			return turnErrWrap(KindBadStatus, "could not check for model", herr)
		}
		return turnErrWrap(KindServerOffline, "server became unreachable", err)
	}
}

func (o *Orchestrator) pullModel(ctx context.Context, client *ollama.Client, model string, prog Progress, tok *Token) error {
	o.log.Info("model missing, pulling", zap.String("model", model))
	stream, err := client.Pull(ctx, model)
	if err != nil {
		return pullStreamErr(err)
	}
	defer stream.Close()

	prog.Pulling("pulling manifest", 0)
	var lastUpdate time.Time
	for {
		if tok.Cancelled() {
			return turnErr(KindCancelled, "turn cancelled")
		}
		event, err := stream.NextPull()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return turnErrWrap(KindUnknown, "pull stream failed", err)
		}
		if event.Error != "" {
			return turnErr(KindBadStatus, "pull failed: "+event.Error)
		}
		if time.Since(lastUpdate) >= o.updateInterval {
			prog.Pulling(event.Status, event.Percent())
			lastUpdate = time.Now()
		}
	}
}

func pullStreamErr(err error) error {
	var herr *ollama.HTTPError
	if errors.As(err, &herr) {
		return turnErrWrap(KindBadStatus, "backend rejected the request", herr)
	}
	return turnErrWrap(KindServerOffline, "server became unreachable", err)
}

// =============================================================================
// CONTEXT ASSEMBLY
// =============================================================================

func (o *Orchestrator) resolveThread(req Request) (*history.Thread, error) {
	if req.ThreadID != "" {
		thread, err := o.history.FindThread(req.ThreadID)
		if err != nil {
			return nil, turnErrWrap(KindUnknown, "could not load thread", err)
		}
		if thread == nil {
			return nil, turnErr(KindInvalidThread,
				fmt.Sprintf("no thread with id %q", req.ThreadID))
		}
		return thread, nil
	}
	id, err := o.history.CreateThread(req.Member, "")
	if err != nil {
		return nil, turnErrWrap(KindUnknown, "could not create thread", err)
	}
	thread, err := o.history.FindThread(id)
	if err != nil || thread == nil {
		return nil, turnErrWrap(KindUnknown, "could not load freshly created thread", err)
	}
	return thread, nil
}

func buildPayload(model string, thread *history.Thread, req Request) ollama.ChatPayload {
	prior := thread.Messages
	messages := make([]ollama.Message, 0, len(prior)+1)
	for _, m := range prior {
		messages = append(messages, ollama.Message{
			Role:    m.Role,
			Content: m.Content,
			Images:  m.Images,
		})
	}
	turn := ollama.Message{Role: history.RoleUser, Content: req.Query}
	if req.Image != nil {
		turn.Images = []string{base64.StdEncoding.EncodeToString(req.Image.Data)}
	}
	messages = append(messages, turn)

	opts := &ollama.Options{Seed: thread.Seed}
	if req.GiveAcid {
		opts.Temperature = 2
		opts.TopK = 500
		opts.TopP = 0.95
		opts.RepeatPenalty = 0.5
	}
	return ollama.ChatPayload{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  opts,
	}
}

// =============================================================================
// GENERATION
// =============================================================================

func (o *Orchestrator) streamGenerate(client *ollama.Client, payload ollama.ChatPayload, prog Progress, tok *Token) (string, *Stats, error) {
	// The stream outlives any sane request timeout, so generation runs on
	// a background context. Cancellation flows through the token.
	stream, err := client.ChatStream(context.Background(), payload)
	if err != nil {
		return "", nil, pullStreamErr(err)
	}
	defer stream.Close()

	var full strings.Builder
	var stats *Stats
	var lastUpdate time.Time
	for {
		if tok.Cancelled() {
			return "", nil, turnErr(KindCancelled, "turn cancelled")
		}
		event, err := stream.NextChat()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, turnErrWrap(KindUnknown, "chat stream failed", err)
		}
		full.WriteString(event.Message.Content)
		if event.Done {
			stats = statsFrom(event)
			break
		}
		if time.Since(lastUpdate) >= o.updateInterval {
			prog.Generating(util.TruncateHead(full.String(), displayCeiling))
			lastUpdate = time.Now()
		}
	}
	return full.String(), stats, nil
}

func statsFrom(event *ollama.ChatEvent) *Stats {
	if event.TotalDuration == 0 && event.EvalCount == 0 {
		return nil
	}
	return &Stats{
		TotalDuration:      time.Duration(event.TotalDuration),
		LoadDuration:       time.Duration(event.LoadDuration),
		PromptEvalDuration: time.Duration(event.PromptEvalDuration),
		EvalDuration:       time.Duration(event.EvalDuration),
		PromptTokens:       event.PromptEvalCount,
		CompletionTokens:   event.EvalCount,
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persistTurn appends both sides of the exchange and writes the thread
// through to the durable store. Only reached when the turn ran to
// completion; cancelled turns leave the thread untouched.
func (o *Orchestrator) persistTurn(threadID string, req Request, content string) error {
	var images []string
	if req.Image != nil {
		images = []string{base64.StdEncoding.EncodeToString(req.Image.Data)}
	}
	if err := o.history.AddMessage(threadID, history.RoleUser, req.Query, images); err != nil {
		return turnErrWrap(KindUnknown, "could not record user message", err)
	}
	if err := o.history.AddMessage(threadID, history.RoleAssistant, content, nil); err != nil {
		return turnErrWrap(KindUnknown, "could not record response", err)
	}
	if err := o.history.SaveThread(threadID); err != nil {
		return turnErrWrap(KindUnknown, "could not save thread", err)
	}
	return nil
}
