package zaplog_test

import (
	"testing"

	"go.uber.org/zap"

	"example.com/cycle-timer/base/zaplog"
)

func TestDefaultLogger(t *testing.T) {
	if zaplog.Logger() == nil {
		t.Errorf("Logger returned nil before SetLogger")
	}
}

func TestSetLogger(t *testing.T) {
	l := zap.NewNop()
	zaplog.SetLogger(l)
	if zaplog.Logger() != l {
		t.Errorf("Logger did not return the logger set")
	}
}
