package logger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEntryBufferKeepsNewest(t *testing.T) {
	buf := NewEntryBuffer(zap.InfoLevel, 3)
	log := zap.New(buf)

	for i := 0; i < 5; i++ {
		log.Info(fmt.Sprintf("msg %d", i))
	}
	log.Debug("below level")

	got := buf.Entries()
	require.Len(t, got, 3)
	assert.Equal(t, "msg 4", got[0].Message, "newest entry should come first")
	assert.Equal(t, "msg 2", got[2].Message)
	assert.Equal(t, "INFO", got[0].Level)
}

func TestEntryBufferFields(t *testing.T) {
	buf := NewEntryBuffer(zap.InfoLevel, 5)
	log := zap.New(buf).With(zap.String("component", "bot"))

	log.Warn("fetch failed", zap.Int("attempt", 2))

	got := buf.Entries()
	require.Len(t, got, 1)
	assert.Equal(t, "WARN", got[0].Level)
	assert.Equal(t, "bot", got[0].Fields["component"])
	assert.EqualValues(t, 2, got[0].Fields["attempt"])

	buf.Clear()
	assert.Empty(t, buf.Entries())
}
