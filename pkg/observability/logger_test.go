package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"INFO", logrus.InfoLevel},
		{"warning", logrus.WarnLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"verbose", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatText, ParseFormat("TEXT"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatJSON, ParseFormat("anything"))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.InfoLevel, FormatJSON, &buf)

	logger.WithField("principal_id", "p-1").Info("session registered")
	logger.Debug("hidden")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session registered", entry["msg"])
	assert.Equal(t, "p-1", entry["principal_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestWithTraceContext_NoSpan(t *testing.T) {
	logger := logrus.New()
	got := WithTraceContext(context.Background(), logger)
	assert.Same(t, logger, got)
}

func TestTokenPrefix(t *testing.T) {
	assert.Equal(t, "short", TokenPrefix("short"))
	assert.Equal(t, "abcdefgh…", TokenPrefix("abcdefghijklmnop"))
}
