package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/ragcore"
	"github.com/poiesic/ragcore/ai/mock"
	"github.com/poiesic/ragcore/config"
)

// run executes the CLI against a mock provider and returns stdout and stderr.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr

	argv := append([]string{"ragcore", "--env-file", filepath.Join(t.TempDir(), "none.env")}, args...)
	err := app.Run(argv)
	return stdout.String(), stderr.String(), err
}

func useMockProvider(t *testing.T) {
	t.Helper()
	previous := openEngine
	openEngine = func(cfg *config.Config) (*ragcore.Engine, error) {
		return ragcore.Open(cfg, ragcore.WithProvider(mock.NewMockProvider()))
	}
	t.Cleanup(func() { openEngine = previous })
}

func findFlag(t *testing.T, cmd *cli.Command, name string) cli.Flag {
	t.Helper()
	for _, flag := range cmd.Flags {
		for _, n := range flag.Names() {
			if n == name {
				return flag
			}
		}
	}
	t.Fatalf("flag %q not found on %s", name, cmd.Name)
	return nil
}

func TestCommandFlags(t *testing.T) {
	app := newApp()

	t.Run("ingest requires project and url", func(t *testing.T) {
		cmd := app.Command("ingest")
		require.NotNil(t, cmd)
		assert.True(t, findFlag(t, cmd, "project").(*cli.StringFlag).Required)
		assert.True(t, findFlag(t, cmd, "url").(*cli.StringFlag).Required)
		assert.Equal(t, "-", findFlag(t, cmd, "file").(*cli.StringFlag).Value)
	})

	t.Run("query top-k defaults to the engine default", func(t *testing.T) {
		cmd := app.Command("query")
		require.NotNil(t, cmd)
		assert.Equal(t, 5, findFlag(t, cmd, "top-k").(*cli.IntFlag).Value)
	})

	t.Run("missing project is rejected", func(t *testing.T) {
		_, _, err := run(t, "", "sessions")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project")
	})

	t.Run("query needs a question", func(t *testing.T) {
		_, _, err := run(t, "", "query", "--project", "p1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "question")
	})
}

func TestIngestAndQuery(t *testing.T) {
	useMockProvider(t)
	dataDir := t.TempDir()
	page := strings.Repeat("Badger keeps the chunks on disk between runs. ", 40)

	stdout, stderr, err := run(t, page, "--data-dir", dataDir,
		"ingest", "--project", "docs", "--url", "https://example.com/badger")
	require.NoError(t, err, stderr)
	sessionID := strings.TrimSpace(stdout)
	assert.NotEmpty(t, sessionID)
	assert.Contains(t, stderr, "completed")

	stdout, _, err = run(t, "", "--data-dir", dataDir, "sessions", "--project", "docs")
	require.NoError(t, err)
	assert.Contains(t, stdout, sessionID)
	assert.Contains(t, stdout, "completed")
	assert.Contains(t, stdout, "https://example.com/badger")

	stdout, _, err = run(t, "", "--data-dir", dataDir, "query", "--project", "docs", "-k", "2", "where", "are", "chunks")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[1] ")
	assert.Contains(t, stdout, "[2] ")
	assert.NotContains(t, stdout, "[3] ")
	assert.Contains(t, stdout, "https://example.com/badger")

	stdout, _, err = run(t, "", "--data-dir", dataDir, "query", "--project", "other", "where are chunks")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No matching content.")

	stdout, _, err = run(t, "", "--data-dir", dataDir, "cache-stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "entries:  1")
}

func TestIngestFromFile(t *testing.T) {
	useMockProvider(t)
	path := filepath.Join(t.TempDir(), "page.txt")
	require.NoError(t, os.WriteFile(path, []byte("a short page"), 0600))

	stdout, _, err := run(t, "", "ingest", "--project", "docs", "--url", "https://example.com", "--file", path)
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(stdout))

	_, _, err = run(t, "", "ingest", "--project", "docs", "--url", "https://example.com", "--file", path+".missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read page text")
}

func TestIngestEmptyText(t *testing.T) {
	useMockProvider(t)
	stdout, stderr, err := run(t, "   ", "ingest", "--project", "docs", "--url", "https://example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(stdout))
	assert.Contains(t, stderr, "0/0 chunks")

	_, _, err = run(t, "text", "ingest", "--project", " ", "--url", "https://example.com")
	require.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	newLoggerApp := func(action cli.ActionFunc) *cli.App {
		return &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "log-level",
					Aliases: []string{"l"},
					Value:   "info",
				},
			},
			Before: setupLogger,
			Action: action,
		}
	}
	noop := func(c *cli.Context) error { return nil }

	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WaRn"} {
			t.Run(level, func(t *testing.T) {
				require.NoError(t, newLoggerApp(noop).Run([]string{"test", "--log-level", level}))
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		err := newLoggerApp(noop).Run([]string{"test", "--log-level", "invalid"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		app := newLoggerApp(func(c *cli.Context) error {
			assert.Equal(t, "debug", c.String("log-level"))
			return nil
		})
		require.NoError(t, app.Run([]string{"test", "-l", "debug"}))
	})
}

func TestReembedCommand(t *testing.T) {
	useMockProvider(t)
	dataDir := t.TempDir()

	_, stderr, err := run(t, strings.Repeat("vectors age with their model. ", 60), "--data-dir", dataDir,
		"ingest", "--project", "docs", "--url", "https://example.com/models")
	require.NoError(t, err, stderr)

	stdout, stderr, err := run(t, "", "--data-dir", dataDir, "reembed", "--project", "docs")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "of 1 pages")
	assert.Contains(t, stderr, "completed")

	stdout, _, err = run(t, "", "--data-dir", dataDir, "reembed", "--project", "empty")
	require.NoError(t, err)
	assert.Contains(t, stdout, "re-embedded 0 chunks of 0 pages")
}
