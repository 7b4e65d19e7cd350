package logging

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestDefaultLogger(t *testing.T) {
	repeat := 5
	var wait sync.WaitGroup
	loggerChan := make(chan *zap.Logger, repeat)

	for i := 0; i < repeat; i++ {
		wait.Add(1)
		go func() {
			defer wait.Done()
			loggerChan <- DefaultLogger()
		}()
	}
	wait.Wait()

	l := DefaultLogger()
	for i := 0; i < repeat; i++ {
		assert.Same(t, l, <-loggerChan)
	}
}

func TestFromContext(t *testing.T) {
	t.Run("falls back to default", func(t *testing.T) {
		assert.Same(t, DefaultLogger(), FromContext(context.Background()))
	})

	t.Run("returns injected logger", func(t *testing.T) {
		l := zap.NewNop()
		ctx := WithLogger(context.Background(), l)
		assert.Same(t, l, FromContext(ctx))
	})
}

func TestNewLogger_WithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drive.log")
	l := NewLogger(&Config{Level: zapcore.DebugLevel, FilePath: path})
	l.Info("hello", zap.String("k", "v"))
	_ = l.Sync()
	assert.FileExists(t, path)
}
