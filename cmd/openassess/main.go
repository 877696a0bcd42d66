package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openassess/openassess/internal/assess"
	"github.com/openassess/openassess/internal/generate"
	"github.com/openassess/openassess/internal/handler"
	appI18n "github.com/openassess/openassess/internal/i18n"
	"github.com/openassess/openassess/internal/mark"
	"github.com/openassess/openassess/internal/model"
	"github.com/openassess/openassess/internal/results"
	"github.com/openassess/openassess/internal/script"
	"github.com/openassess/openassess/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "openassess",
		Short: "Question instantiation and marking engine",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `openassess --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assessment HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "openassess.db", "SQLite database path")
	f.StringP("lang", "l", "en", "UI language")
	f.StringSlice("script-runner", nil, "Interpreter command for marker/results scripts (empty disables them)")
	f.Duration("script-timeout", 10*time.Second, "Wall clock limit per script run")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "openassess.db", "SQLite database path")
	f.Int64("exam", 0, "Exam ID to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("exam")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("OPENASSESS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("openassess")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/openassess")
	v.AddConfigPath("/etc/openassess")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var engine script.Engine
	runner := v.GetStringSlice("script-runner")
	if len(runner) == 0 {
		slog.Warn("no script runner configured, script-marked templates fall back to the standard marker")
		engine = script.Disabled{}
	} else {
		engine = &script.ProcessEngine{
			Command: runner,
			Timeout: v.GetDuration("script-timeout"),
		}
		slog.Info("script runner enabled", "command", runner,
			"timeout", v.GetDuration("script-timeout"))
	}

	res := results.NewRenderer(db, engine)
	assessor := assess.New(db, generate.New(db), mark.NewEngine(db, engine), res)
	h := handler.New(db, assessor, res)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"lang", lang,
		"scripts_enabled", len(runner) > 0,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	examID := v.GetInt64("exam")
	exam, err := db.Exam(examID)
	if err != nil {
		return fmt.Errorf("load exam %d: %w", examID, err)
	}
	attempts, err := db.ExportExamResults(examID)
	if err != nil {
		return fmt.Errorf("export exam %d: %w", examID, err)
	}
	positions, err := db.NumPositions(examID)
	if err != nil {
		return fmt.Errorf("count positions of exam %d: %w", examID, err)
	}
	templates, err := db.ExamTemplates(examID)
	if err != nil {
		return fmt.Errorf("list templates of exam %d: %w", examID, err)
	}

	export := model.ExamExport{
		ExamID:       examID,
		Title:        exam.Title,
		GeneratedAt:  time.Now(),
		NumPositions: positions,
		Templates:    templates,
		Results:      attempts,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
