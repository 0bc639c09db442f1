// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists conversation threads.
//
// A Thread is an ordered list of messages with a fixed system prompt at
// index 0. Threads live in a two-tier store: an in-memory cache for the
// working copies, and the durable key-value store under "threads:<id>" keys.
// Mutation and persistence are explicit and separate: AddMessage changes only
// the cached copy, SaveThread writes it through. Two concurrent turns on the
// same thread therefore race on SaveThread (last write wins); the cache
// itself is mutex-guarded, so the race is bounded to whole-thread overwrites.
package history

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexy7574/college-bot-v2/internal/store"
	"github.com/nexy7574/college-bot-v2/internal/util"
)

// =============================================================================
// DATA MODEL
// =============================================================================

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn fragment within a thread.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Images holds base64-encoded image payloads attached to the message.
	Images []string `json:"images,omitempty"`
}

// Thread is a persisted conversation.
type Thread struct {
	// ID is 6 random bytes, hex encoded. Assigned at creation.
	ID string `json:"-"`
	// Member is the Discord user id that owns the thread.
	Member string `json:"member"`
	// Seed is the creation timestamp, reused as the deterministic
	// generation seed for every turn in the thread.
	Seed int64 `json:"seed"`
	// Messages in chronological order; Messages[0] is always the system
	// prompt.
	Messages []Message `json:"messages"`
}

// keyFor returns the durable-store key for a thread id.
func keyFor(id string) string {
	return "threads:" + id
}

// ErrThreadNotResident is returned when a mutation names a thread that is not
// loaded in memory. Callers must create or load a thread before appending.
var ErrThreadNotResident = errors.New("thread is not resident in memory")

// =============================================================================
// STORE
// =============================================================================

// DefaultSystemPrompt is materialized to the prompt asset path on first run
// so operators can edit it in place.
const DefaultSystemPrompt = "You are Jimmy, a helpful assistant in a Discord server. " +
	"Answer concisely and truthfully. If you do not know something, say so."

// Store is the two-tier thread store.
type Store struct {
	mu      sync.Mutex
	threads map[string]*Thread

	kv     *store.KV
	prompt string
	log    *zap.Logger
}

// New creates a thread store over kv. promptPath names the default
// system-prompt asset; if the file is missing it is created with the
// built-in default.
func New(kv *store.KV, promptPath string, log *zap.Logger) (*Store, error) {
	prompt := DefaultSystemPrompt
	data, err := os.ReadFile(promptPath)
	switch {
	case err == nil:
		prompt = string(data)
	case os.IsNotExist(err):
		if werr := util.AtomicWriteFile(promptPath, []byte(DefaultSystemPrompt), 0644); werr != nil {
			log.Warn("could not materialize default prompt asset", zap.Error(werr))
		}
	default:
		return nil, fmt.Errorf("failed to read prompt asset %q: %w", promptPath, err)
	}

	return &Store{
		threads: make(map[string]*Thread),
		kv:      kv,
		prompt:  prompt,
		log:     log,
	}, nil
}

// CreateThread initializes a new thread owned by member and returns its id.
// systemPrompt overrides the default prompt asset when non-empty. The thread
// is resident after creation but not yet durable; call SaveThread.
func (s *Store) CreateThread(member, systemPrompt string) (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate thread id: %w", err)
	}
	id := hex.EncodeToString(raw)

	if systemPrompt == "" {
		systemPrompt = s.prompt
	}

	thread := &Thread{
		ID:     id,
		Member: member,
		Seed:   time.Now().Unix(),
		Messages: []Message{
			{Role: RoleSystem, Content: systemPrompt},
		},
	}

	s.mu.Lock()
	s.threads[id] = thread
	s.mu.Unlock()

	s.log.Debug("created thread", zap.String("id", id), zap.String("member", member))
	return id, nil
}

// AddMessage appends a message to a resident thread. The thread must have
// been created or loaded first; anything else is a caller bug surfaced as
// ErrThreadNotResident.
func (s *Store) AddMessage(threadID, role, content string, images []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrThreadNotResident, threadID)
	}
	thread.Messages = append(thread.Messages, Message{Role: role, Content: content, Images: images})
	return nil
}

// SaveThread serializes the resident thread and writes it through to the
// durable store, overwriting any prior value. Not transactional with
// AddMessage; callers invoke both, in order.
func (s *Store) SaveThread(threadID string) error {
	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrThreadNotResident, threadID)
	}
	data, err := json.Marshal(thread)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to serialize thread %s: %w", threadID, err)
	}

	if err := s.kv.Put(keyFor(threadID), data); err != nil {
		return err
	}
	s.log.Debug("saved thread", zap.String("id", threadID), zap.Int("bytes", len(data)))
	return nil
}

// LoadThread reads a thread from the durable store into the cache. A missing
// thread returns (nil, nil): absence is not an error.
func (s *Store) LoadThread(threadID string) (*Thread, error) {
	data, ok, err := s.kv.Get(keyFor(threadID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	thread := &Thread{}
	if err := json.Unmarshal(data, thread); err != nil {
		return nil, fmt.Errorf("failed to decode thread %s: %w", threadID, err)
	}
	thread.ID = threadID

	s.mu.Lock()
	s.threads[threadID] = thread
	s.mu.Unlock()
	return thread, nil
}

// FindThread is a best-effort lookup: cache first, then the durable store.
// Returns (nil, nil) when neither tier has the thread.
func (s *Store) FindThread(threadID string) (*Thread, error) {
	s.mu.Lock()
	thread, ok := s.threads[threadID]
	s.mu.Unlock()
	if ok {
		return thread, nil
	}
	return s.LoadThread(threadID)
}

// GetHistory returns a defensive copy of a resident thread's messages, or an
// empty slice for an unknown thread. Callers may append freely without
// touching store state.
func (s *Store) GetHistory(threadID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return []Message{}
	}
	out := make([]Message, len(thread.Messages))
	copy(out, thread.Messages)
	return out
}
