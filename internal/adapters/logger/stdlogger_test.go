package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStdLogger_LevelFilterAndSortedFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelInfo)
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	l.Info(ctx, "Trade intent denied", map[string]interface{}{"symbol": "AAPL", "reason": "CoolingDown", "approved": false})
	l.Error(ctx, errors.New("boom"), "Close failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] Trade intent denied | approved=false reason=CoolingDown symbol=AAPL")
	assert.Contains(t, out, "[ERROR] Close failed | error: boom")
}

func TestParseLevelAndDecode(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))

	var lvl LogLevel
	assert.NoError(t, lvl.Decode("ERROR"))
	assert.Equal(t, LevelError, lvl)
	assert.Equal(t, "ERROR", lvl.String())
}
