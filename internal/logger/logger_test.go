package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetLevelFromString(t *testing.T) {
	defer SetLogLevel(logrus.WarnLevel)

	assert.Equal(t, logrus.DebugLevel, SetLevelFromString("debug"))
	assert.Equal(t, logrus.DebugLevel, GetLogger().GetLevel())
	assert.Equal(t, logrus.WarnLevel, SetLevelFromString("nonsense"))
}

func TestLeveledLogrusFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	leveled := NewLeveledLogrus(l)
	leveled.Warn("retrying", "attempt", 2, "url", "http://hub", "dangling")

	out := buf.String()
	assert.Contains(t, out, `"attempt":2`)
	assert.Contains(t, out, `"url":"http://hub"`)
	assert.NotContains(t, out, "dangling")
}
