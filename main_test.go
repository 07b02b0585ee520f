package main

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_detector/internal/config"
)

func testSetup(t *testing.T, addr string) (*config.Config, *logrus.Logger) {
	t.Helper()
	cfg := &config.Config{
		Addr:           addr,
		ModelPath:      filepath.Join(t.TempDir(), "missing.onnx"),
		ConfThreshold:  0.25,
		IOUThreshold:   0.7,
		MaxDetections:  300,
		MaxUploadBytes: 1 << 20,
		MaxImagePixels: 1 << 20,
		SessionTTL:     time.Minute,
		MaxSessions:    4,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return cfg, l
}

func TestRun_ListenFailureIsReturned(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg, logger := testSetup(t, busy.Addr().String())

	done := make(chan error, 1)
	go func() { done <- run(cfg, logger, make(chan os.Signal)) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return on a busy port")
	}
}

func TestRun_StopsOnSignal(t *testing.T) {
	cfg, logger := testSetup(t, "127.0.0.1:0")
	quit := make(chan os.Signal, 1)

	done := make(chan error, 1)
	go func() { done <- run(cfg, logger, quit) }()
	quit <- syscall.SIGTERM

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop on signal")
	}
}
