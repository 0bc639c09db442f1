// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// STREAM
// =============================================================================

// Stream decodes a newline-delimited JSON response body lazily. It is not
// restartable; the sequence ends when the body ends or the consumer stops
// and Closes it. A malformed line never aborts the stream: it is logged and
// skipped.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	log    *zap.Logger
}

func newStream(body io.ReadCloser, log *zap.Logger) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReader(body),
		log:    log,
	}
}

// Close releases the underlying response body. Closing early is the
// supported way to abandon a stream mid-flight.
func (s *Stream) Close() error {
	return s.body.Close()
}

// NextChat decodes the next chat event. Returns io.EOF once the body ends.
func (s *Stream) NextChat() (*ChatEvent, error) {
	line, err := s.nextLine()
	if err != nil {
		return nil, err
	}
	event := &ChatEvent{}
	if err := json.Unmarshal(line, event); err != nil {
		// Valid JSON of an unexpected shape; skip like a malformed line.
		s.log.Warn("unable to decode chat event", zap.ByteString("line", line), zap.Error(err))
		return s.NextChat()
	}
	return event, nil
}

// NextPull decodes the next pull progress event. Returns io.EOF once the
// body ends.
func (s *Stream) NextPull() (*PullEvent, error) {
	line, err := s.nextLine()
	if err != nil {
		return nil, err
	}
	event := &PullEvent{}
	if err := json.Unmarshal(line, event); err != nil {
		s.log.Warn("unable to decode pull event", zap.ByteString("line", line), zap.Error(err))
		return s.NextPull()
	}
	return event, nil
}

// nextLine returns the next non-empty, JSON-valid line of the body. Each
// line is decoded as UTF-8 with invalid-byte substitution before parsing.
// Lines that are not valid JSON are logged and dropped.
func (s *Stream) nextLine() ([]byte, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && (err != io.EOF || len(line) == 0) {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}
		atEOF := err == io.EOF

		text := strings.TrimSpace(strings.ToValidUTF8(string(line), "�"))
		if text == "" {
			if atEOF {
				return nil, io.EOF
			}
			continue
		}

		if !json.Valid([]byte(text)) {
			s.log.Warn("unable to decode JSON line", zap.String("line", text))
			if atEOF {
				return nil, io.EOF
			}
			continue
		}
		return []byte(text), nil
	}
}
