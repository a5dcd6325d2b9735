package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ketabkhaneh/epubreader/internal/api"
	"github.com/ketabkhaneh/epubreader/internal/config"
	"github.com/ketabkhaneh/epubreader/internal/epub"
	"github.com/ketabkhaneh/epubreader/internal/logger"
	"github.com/ketabkhaneh/epubreader/internal/reader"
	"github.com/ketabkhaneh/epubreader/internal/render"
	"github.com/ketabkhaneh/epubreader/internal/server"
	"github.com/ketabkhaneh/epubreader/internal/settings"
	"github.com/ketabkhaneh/epubreader/internal/storage"
)

const (
	outputHTML     = "html"
	outputMarkdown = "markdown"
)

// cliOptions is everything a subcommand needs after flag resolution.
type cliOptions struct {
	Config *config.Config
	Logger *slog.Logger
	Source string
	BookID string
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "epubreader",
		Short: "Read EPUB books with Persian typography",
		Long: `epubreader opens EPUB books from a file or URL, renders them one
section at a time for right-to-left reading, and keeps reading
progress, bookmarks and reader settings.

Progress and reading time are reported to the remote API when
--api-url is set.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("log-level", "", "Log level: debug, info, warn, error (env EPUBREADER_LOG_LEVEL, default info)")
	pf.String("log-format", "", "Log format: text, json (env EPUBREADER_LOG_FORMAT, default text)")
	pf.BoolP("verbose", "v", false, "Shorthand for --log-level debug")
	pf.String("api-url", "", "Base URL of the progress API (env EPUBREADER_API_URL)")
	pf.String("api-token", "", "Bearer token for the progress API (env EPUBREADER_API_TOKEN)")
	pf.String("api-timeout", "", "Progress API request timeout (env EPUBREADER_API_TIMEOUT, default 15s)")
	pf.String("api-rate", "", "Progress API requests per second (env EPUBREADER_API_RATE, default 2)")
	pf.String("storage-path", "", "Directory of the local database; empty keeps state in memory (env EPUBREADER_STORAGE_PATH)")
	pf.String("book-id", "", "Book id used for saved state (default: source file name)")

	rootCmd.AddCommand(newInfoCmd(), newReadCmd(), newServeCmd())
	return rootCmd
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <file-or-url>",
		Short: "Print metadata, sections and outline of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			return runInfo(cmd.Context(), cmd.OutOrStdout(), opts, asJSON)
		},
	}
	cmd.Flags().Bool("json", false, "Print as JSON")
	return cmd
}

func newReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <file-or-url>",
		Short: "Render one section of a book",
		Long: `read opens the book at the saved position, or at --section when
given, and prints the rendered section.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			section, _ := cmd.Flags().GetInt("section")
			format, _ := cmd.Flags().GetString("format")
			format = strings.ToLower(strings.TrimSpace(format))
			if format != outputHTML && format != outputMarkdown {
				return fmt.Errorf("invalid --format %q: must be html or markdown", format)
			}
			return runRead(cmd.Context(), cmd.OutOrStdout(), opts, section, format)
		},
	}
	cmd.Flags().Int("section", -1, "Zero-based section index (default: saved position)")
	cmd.Flags().String("format", outputMarkdown, "Output format: html, markdown")
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <file-or-url>",
		Short: "Serve a reading session over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (env EPUBREADER_ADDR, default 127.0.0.1:8080)")
	return cmd
}

// readCLIOptions resolves flags, environment and defaults into options.
func readCLIOptions(cmd *cobra.Command, args []string) (*cliOptions, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected exactly one book source, got %d", len(args))
	}

	cfg, err := config.Load(config.Flags{
		LogLevel:    stringFlag(cmd, "log-level"),
		LogFormat:   stringFlag(cmd, "log-format"),
		APIURL:      stringFlag(cmd, "api-url"),
		APIToken:    stringFlag(cmd, "api-token"),
		APITimeout:  stringFlag(cmd, "api-timeout"),
		APIRate:     stringFlag(cmd, "api-rate"),
		StoragePath: stringFlag(cmd, "storage-path"),
		Addr:        stringFlag(cmd, "addr"),
	})
	if err != nil {
		return nil, err
	}
	if stringFlag(cmd, "verbose") == "true" {
		cfg.LogLevel = "debug"
	}

	bookID := stringFlag(cmd, "book-id")
	if bookID == "" {
		bookID = defaultBookID(args[0])
	}

	return &cliOptions{
		Config: cfg,
		Logger: buildLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat),
		Source: args[0],
		BookID: bookID,
	}, nil
}

// stringFlag reads a local or inherited flag; unknown flags read as "".
func stringFlag(cmd *cobra.Command, name string) string {
	f := cmd.Flag(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

func buildLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	f, err := logger.ParseFormat(format)
	if err != nil {
		f = logger.FormatText
	}
	return logger.New(logger.Config{Writer: w, Format: f, Level: lvl})
}

// defaultBookID derives a book id from the last path element of a file
// name or URL.
func defaultBookID(source string) string {
	base := source
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = filepath.Base(strings.TrimRight(base, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "book"
	}
	return base
}

type bookInfo struct {
	Metadata  epub.Metadata  `json:"metadata"`
	Sections  []epub.Section `json:"sections"`
	TOCSource epub.TOCSource `json:"tocSource"`
	TOC       []epub.TOCItem `json:"toc"`
	Files     []string       `json:"files"`
	Cover     string         `json:"cover,omitempty"`
	BlurHash  string         `json:"coverBlurHash,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
}

func runInfo(ctx context.Context, w io.Writer, opts *cliOptions, asJSON bool) error {
	client := &http.Client{Timeout: opts.Config.APITimeout}
	book, err := epub.Load(ctx, client, opts.Source, opts.Logger)
	if err != nil {
		return fmt.Errorf("open book: %w", err)
	}

	info := bookInfo{
		Metadata:  book.Metadata(),
		Sections:  book.Sections(),
		TOCSource: book.TOCSource(),
		TOC:       book.TOC(),
		Files:     book.Archive().Files(),
		Warnings:  book.Archive().Warnings(),
	}
	if cover, ok := book.Cover(); ok {
		info.Cover = cover.Path
		hash, err := cover.BlurHash()
		if err != nil {
			opts.Logger.Debug("cover blurhash failed", "path", cover.Path, "error", err)
		} else {
			info.BlurHash = hash
		}
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(w, "Title:     %s\n", info.Metadata.Title)
	fmt.Fprintf(w, "Author:    %s\n", info.Metadata.Author())
	fmt.Fprintf(w, "Language:  %s\n", info.Metadata.Language)
	if info.Metadata.Publisher != "" {
		fmt.Fprintf(w, "Publisher: %s\n", info.Metadata.Publisher)
	}
	if info.Cover != "" {
		fmt.Fprintf(w, "Cover:     %s\n", info.Cover)
	}
	fmt.Fprintf(w, "Sections:  %d\n", len(info.Sections))
	fmt.Fprintf(w, "Outline:   %s\n", info.TOCSource)
	fmt.Fprintf(w, "Files:     %d\n", len(info.Files))
	for _, s := range info.Sections {
		fmt.Fprintf(w, "  %3d  %s\n", s.Index, s.Label)
	}
	for _, warning := range info.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return nil
}

// openSession wires storage, settings and the remote API into a session
// and opens the book. The returned cleanup closes everything.
func openSession(ctx context.Context, opts *cliOptions) (*reader.Session, *settings.Store, func(), error) {
	cfg := opts.Config
	log := opts.Logger

	var store *storage.Store
	var err error
	if cfg.StoragePath != "" {
		store, err = storage.Open(cfg.StoragePath, log)
	} else {
		store, err = storage.OpenInMemory(log)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open storage: %w", err)
	}

	st := settings.NewStore(store, log)
	deps := reader.Deps{Store: store, Settings: st, Logger: log}
	if cfg.APIURL != "" {
		deps.Remote = api.New(api.Config{
			BaseURL: cfg.APIURL,
			Token:   cfg.APIToken,
			Timeout: cfg.APITimeout,
			RPS:     cfg.APIRate,
		}, log)
	}

	sess := reader.NewSession(deps)
	cleanup := func() {
		if err := sess.Close(context.Background()); err != nil {
			log.Warn("failed to close reading session", "error", err)
		}
		if err := store.Close(); err != nil {
			log.Warn("failed to close storage", "error", err)
		}
	}

	if err := sess.Initialize(ctx, opts.BookID, opts.Source); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return sess, st, cleanup, nil
}

func runRead(ctx context.Context, w io.Writer, opts *cliOptions, section int, format string) error {
	sess, _, cleanup, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	if section >= 0 {
		total := sess.Progress().TotalLocations
		if section >= total {
			return fmt.Errorf("invalid --section %d: book has %d sections", section, total)
		}
		sess.GoToSection(ctx, section)
	}

	doc := sess.Document()
	if format == outputHTML {
		_, err := io.WriteString(w, doc.HTML)
		return err
	}
	md, err := render.Markdown(doc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, md)
	return err
}

func runServe(ctx context.Context, opts *cliOptions) error {
	sess, st, cleanup, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(st, opts.Logger)
	srv.Register(opts.BookID, sess)
	opts.Logger.Info("serving book",
		"book_id", opts.BookID,
		"title", sess.Metadata().Title,
		"sections", sess.Progress().TotalLocations,
	)
	return srv.Run(ctx, opts.Config.Addr)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
