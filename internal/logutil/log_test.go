package logutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGetOrDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), logger)

	l := GetOrDefault(ctx)
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestGetOrDefaultFallsBack(t *testing.T) {
	l := GetOrDefault(context.Background())
	assert.NotNil(t, l)
}

func TestNewParsesLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, New("debug", false).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("bogus", false).GetLevel())
}
