// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var levelColors = map[zapcore.Level]string{
	zapcore.DebugLevel:  "\x1b[35m",
	zapcore.InfoLevel:   "\x1b[34m",
	zapcore.WarnLevel:   "\x1b[33m",
	zapcore.ErrorLevel:  "\x1b[31m",
	zapcore.DPanicLevel: "\x1b[31m",
	zapcore.PanicLevel:  "\x1b[31m",
	zapcore.FatalLevel:  "\x1b[31m",
}

const colorReset = "\x1b[0m"

// PrettyConsoleEncoder produces human-readable logs in a format like:
// [INFO]	[coordinator]	Message here - key=value
//
// Message and fields are rendered by an inner console encoder so that
// fields added through With() are kept on clones.
type PrettyConsoleEncoder struct {
	zapcore.Encoder

	pool   buffer.Pool
	colors bool
}

// NewPrettyConsoleEncoder creates a new PrettyConsoleEncoder instance.
func NewPrettyConsoleEncoder(cfg zapcore.EncoderConfig, colors bool) zapcore.Encoder {
	inner := zapcore.EncoderConfig{
		MessageKey:       cfg.MessageKey,
		StacktraceKey:    cfg.StacktraceKey,
		LineEnding:       cfg.LineEnding,
		EncodeDuration:   cfg.EncodeDuration,
		EncodeTime:       cfg.EncodeTime,
		ConsoleSeparator: " - ",
	}

	return &PrettyConsoleEncoder{
		Encoder: zapcore.NewConsoleEncoder(inner),
		pool:    buffer.NewPool(),
		colors:  colors,
	}
}

// Clone implements zapcore.Encoder.
func (e *PrettyConsoleEncoder) Clone() zapcore.Encoder {
	return &PrettyConsoleEncoder{
		Encoder: e.Encoder.Clone(),
		pool:    e.pool,
		colors:  e.colors,
	}
}

// EncodeEntry formats a log entry in a human-readable format.
func (e *PrettyConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := e.pool.Get()

	line.AppendByte('[')

	if color, ok := levelColors[entry.Level]; ok && e.colors {
		line.AppendString(color)
		line.AppendString(entry.Level.CapitalString())
		line.AppendString(colorReset)
	} else {
		line.AppendString(entry.Level.CapitalString())
	}

	line.AppendString("]\t")

	if entry.LoggerName != "" {
		line.AppendByte('[')
		line.AppendString(entry.LoggerName)
		line.AppendString("]\t")
	}

	rest, err := e.Encoder.EncodeEntry(entry, fields)
	if err != nil {
		line.Free()

		return nil, err
	}

	_, _ = line.Write(rest.Bytes())
	rest.Free()

	return line, nil
}
