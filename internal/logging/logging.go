// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process-wide zap logger.
//
// The bot logs to a console sink always, and to an append-only log file when
// one is configured. Component loggers are derived with logger.Named, so a
// noisy component (e.g. "web.bridge") can be raised to WARN through the
// config suppress list without silencing the rest of the process.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs the root logger.
//
// level is a zap level string ("debug", "info", ...). file may be empty to
// disable the file sink. suppress lists logger names (exact, or prefix via
// trailing ".") whose entries below WARN are discarded.
func New(level, file string, suppress []string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if level == "" {
		lvl = zapcore.InfoLevel
	} else if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), lvl),
	}

	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %q: %w", file, err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), lvl))
	}

	core := zapcore.NewTee(cores...)
	if len(suppress) > 0 {
		core = &suppressCore{Core: core, names: suppress}
	}

	return zap.New(core), nil
}

// suppressCore drops sub-WARN entries for suppressed logger names.
type suppressCore struct {
	zapcore.Core
	names []string
}

func (c *suppressCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level < zapcore.WarnLevel && c.suppressed(ent.LoggerName) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func (c *suppressCore) With(fields []zapcore.Field) zapcore.Core {
	return &suppressCore{Core: c.Core.With(fields), names: c.names}
}

func (c *suppressCore) suppressed(name string) bool {
	for _, n := range c.names {
		if name == n || strings.HasPrefix(name, n+".") {
			return true
		}
	}
	return false
}
