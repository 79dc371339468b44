// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/ragcore"
	"github.com/poiesic/ragcore/api"
	"github.com/poiesic/ragcore/config"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/ingestion"
	"github.com/poiesic/ragcore/progress"
	"github.com/poiesic/ragcore/retrieval"
)

const shutdownTimeout = 10 * time.Second

// openEngine is replaced in tests to inject a mock provider.
var openEngine = func(cfg *config.Config) (*ragcore.Engine, error) {
	return ragcore.Open(cfg)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ragcore",
		Usage: "Ingest web content and answer questions over it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file; ignored when missing",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Directory for persistent state (overrides DATA_DIR)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides HTTP_ADDR)",
					},
				},
			},
			{
				Name:   "ingest",
				Usage:  "Ingest a page's text and follow its progress",
				Action: ingestCommand,
				Flags: []cli.Flag{
					projectFlag(),
					userFlag(),
					&cli.StringFlag{
						Name:     "url",
						Aliases:  []string{"u"},
						Usage:    "Source URL of the page",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "File holding the page text, - for stdin",
						Value:   "-",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Re-ingest even when the content is unchanged",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Retrieve the chunks most relevant to a question",
				ArgsUsage: "<question>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					projectFlag(),
					userFlag(),
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of chunks to return",
						Value:   retrieval.DefaultTopK,
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed every stored chunk of a project with the configured model",
				Action: reembedCommand,
				Flags:  []cli.Flag{projectFlag()},
			},
			{
				Name:   "sessions",
				Usage:  "List the ingestion sessions of a project",
				Action: sessionsCommand,
				Flags:  []cli.Flag{projectFlag()},
			},
			{
				Name:   "cache-stats",
				Usage:  "Show page cache statistics",
				Action: cacheStatsCommand,
			},
		},
	}
}

func projectFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "project",
		Aliases:  []string{"p"},
		Usage:    "Project the content belongs to",
		Required: true,
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "user",
		Usage: "Optional user within the project",
	}
}

func loadEngine(c *cli.Context) (*ragcore.Engine, error) {
	cfg, err := config.Load(c.String("env-file"), c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if cfg.DataDir == "" {
		slog.Warn("no data directory set, state is discarded on exit")
	}
	engine, err := openEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func serveCommand(c *cli.Context) error {
	engine, err := loadEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	server, err := api.NewServer(engine)
	if err != nil {
		return err
	}

	addr := engine.Config().HTTPAddr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		errCh <- server.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return <-errCh
}

func ingestCommand(c *cli.Context) error {
	text, err := readText(c.String("file"), c.App.Reader)
	if err != nil {
		return err
	}

	engine, err := loadEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	project := c.String("project")
	sub := engine.Broker().SubscribeProject(project)
	defer sub.Close()

	id, err := engine.Ingest(ctx, ingestion.Request{
		Scope:        core.TenantScope{ProjectID: project, UserID: c.String("user")},
		URL:          c.String("url"),
		Text:         text,
		ForceRefresh: c.Bool("force"),
	})
	if err != nil {
		return err
	}

	last, done := progress.NewConsoleReporter(c.App.ErrWriter).Follow(ctx, sub, id)
	if !done {
		return fmt.Errorf("session %s did not finish", id)
	}
	if last.Data.Status == core.StatusError {
		return fmt.Errorf("ingestion failed: %s", last.Data.Message)
	}
	fmt.Fprintln(c.App.Writer, id)
	return nil
}

func readText(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return string(data), nil
}

func queryCommand(c *cli.Context) error {
	question := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return errors.New("a question is required")
	}

	engine, err := loadEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.Query(c.Context, retrieval.QueryRequest{
		Text:      question,
		ProjectID: c.String("project"),
		UserID:    c.String("user"),
		TopK:      c.Int("top-k"),
	})
	if err != nil {
		return err
	}

	w := c.App.Writer
	if len(result.Results) == 0 {
		fmt.Fprintln(w, "No matching content.")
		return nil
	}
	if result.Answer != "" {
		fmt.Fprintf(w, "%s\n\n", result.Answer)
	}
	for _, citation := range result.Citations {
		fmt.Fprintf(w, "[%d] %.3f %s (chunk %d)\n", citation.Number, citation.Score, citation.SourceURL, citation.Index)
	}
	if result.Answer == "" {
		fmt.Fprintf(w, "\n%s\n", result.Context)
	}
	return nil
}

func reembedCommand(c *cli.Context) error {
	engine, err := loadEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter := progress.NewConsoleReporter(c.App.ErrWriter)
	result, err := engine.Reembed(ctx, c.String("project"), reporter.Render)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "re-embedded %d chunks of %d pages in %v\n",
		result.Chunks, result.ContentKeys, result.Elapsed.Round(time.Millisecond))
	return nil
}

func sessionsCommand(c *cli.Context) error {
	engine, err := loadEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	sessions, err := engine.Pipeline().Sessions(c.Context, c.String("project"))
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%d/%d\t%s\t%s\n",
			s.ID, s.Status, s.CurrentChunk, s.TotalChunks,
			s.CreatedAt.Format(time.RFC3339), s.URL)
	}
	return nil
}

func cacheStatsCommand(c *cli.Context) error {
	engine, err := loadEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	stats, err := engine.Cache().Stats(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "entries:  %d\nhits:     %d\nmisses:   %d\nhit rate: %.2f\n",
		stats.TotalEntries, stats.HitCount, stats.MissCount, stats.HitRate)
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
