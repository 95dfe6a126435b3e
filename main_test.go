package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telebroad/ftpgateway/config"
	"github.com/telebroad/ftpgateway/filesystem"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger("warn", &buf)
	assert.Empty(t, buf.String(), "info line is below the warn level")

	logger.Warn("disk almost full")
	assert.Contains(t, buf.String(), "disk almost full")
	assert.Contains(t, buf.String(), "ftpgateway")

	buf.Reset()
	logger = setupLogger("DEBUG", &buf)
	assert.Contains(t, buf.String(), "Logger initialized")
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "main_test.go", "debug logs carry the source")
}

func TestNewProviderFactory(t *testing.T) {
	ctx := t.Context()

	factory, err := newProviderFactory(ctx, &config.Config{Provider: config.ProviderMem}, discardLogger())
	require.NoError(t, err)
	p, err := factory()
	require.NoError(t, err)
	assert.Equal(t, "/", p.WorkingDir())

	factory, err = newProviderFactory(ctx, &config.Config{Provider: config.ProviderFS, Args: t.TempDir()}, discardLogger())
	require.NoError(t, err)
	p, err = factory()
	require.NoError(t, err)
	require.NoError(t, p.MakeDir("inbox"))
	assert.True(t, p.ChangeDir("inbox"))
	require.NoError(t, filesystem.CloseProvider(p))

	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"unknown provider", config.Config{Provider: "dropbox"}},
		{"missing fs root", config.Config{Provider: config.ProviderFS, Args: "/does/not/exist"}},
		{"missing bucket", config.Config{Provider: config.ProviderS3, Args: ""}},
		{"sftp without user", config.Config{Provider: config.ProviderSFTP, Args: "sftp://files.example.com/srv"}},
		{"wrong ftp scheme", config.Config{Provider: config.ProviderFTP, Args: "http://files.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newProviderFactory(ctx, &tt.cfg, discardLogger())
			assert.Error(t, err)
		})
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Address:        "127.0.0.1:0",
		Provider:       config.ProviderMem,
		PublicIPv4:     "127.0.0.1",
		PassiveTimeout: time.Second,
		WelcomeMessage: "Hello from the test",
	}
}

func TestStartServesFTP(t *testing.T) {
	g, err := start(t.Context(), testConfig(), discardLogger())
	require.NoError(t, err)
	defer g.shutdown(nil)

	conn, err := textproto.Dial("tcp", g.ftp.ListenerAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	code, msg, err := conn.ReadResponse(220)
	require.NoError(t, err)
	assert.Equal(t, 220, code)
	assert.Equal(t, "Hello from the test", msg)

	require.NoError(t, conn.PrintfLine("PWD"))
	_, msg, err = conn.ReadResponse(257)
	require.NoError(t, err)
	assert.Contains(t, msg, `"/"`)
	assert.NotNil(t, g.ftp.Metrics)
}

func TestStartRejectsBadPublicIP(t *testing.T) {
	cfg := testConfig()
	cfg.PublicIPv4 = "::1"
	_, err := start(t.Context(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, testConfig(), discardLogger())
	}()

	time.Sleep(2 * startupTimeout)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRootCommandArgumentError(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--provider=dropbox", "--address=127.0.0.1:0"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, out.String(), "Arguments error")
	assert.Contains(t, out.String(), "--provider")
}
