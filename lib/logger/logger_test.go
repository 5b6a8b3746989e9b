package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/logger"
)

func TestLevelsWriteOutput(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(&buf)

	l.Infoln("hello", "world")
	assert.Contains(t, buf.String(), "INFO: hello world")
}

func TestHandlerReceivesMessage(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(&buf)

	var got []string
	l.AddHandler(logger.LevelWarn, func(lv logger.Level, msg string) {
		got = append(got, msg)
	})

	l.Warnf("disk %s", "full")
	assert.Equal(t, []string{"disk full"}, got)
}

func TestHandlerNotCalledBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(&buf)

	called := false
	l.AddHandler(logger.LevelWarn, func(lv logger.Level, msg string) {
		called = true
	})

	l.Debugln("noise")
	assert.False(t, called)
	assert.True(t, strings.Contains(buf.String(), "DEBUG: noise"))
}
