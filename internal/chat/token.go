// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "sync/atomic"

// Token is a one-shot cancellation flag shared between a running turn and
// whatever UI affordance lets the user stop it. Cancel is idempotent and
// safe to call from any goroutine. A nil Token is never cancelled.
type Token struct {
	flag atomic.Bool
}

func NewToken() *Token {
	return &Token{}
}

// Cancel requests cooperative cancellation. The turn notices at the next
// stream chunk or retry boundary, not instantaneously.
func (t *Token) Cancel() {
	if t != nil {
		t.flag.Store(true)
	}
}

func (t *Token) Cancelled() bool {
	return t != nil && t.flag.Load()
}
