package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mzyy94/ledmscan/internal/config"
	"github.com/mzyy94/ledmscan/internal/ledm"
	"github.com/mzyy94/ledmscan/internal/scanner"
)

// app holds state shared by every subcommand.
type app struct {
	printer    string
	sid        string
	logLevel   string
	configPath string

	store *config.Store
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "ledmscan",
		Short: "Scan from HP printers through their embedded web server",
		Long: `ledmscan drives the webscan job API of HP network printers: it waits for
the scanner to become idle, submits a job, downloads the page and writes a
downscaled copy next to it.

The printer and session cookie come from flags, the environment
(LEDMSCAN_PRINTER, LEDMSCAN_SID, also read from .env) or the settings file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return a.init(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.printer, "printer", "", "printer base URL or host (env LEDMSCAN_PRINTER)")
	pf.StringVar(&a.sid, "sid", "", "session id cookie (env LEDMSCAN_SID)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (env LEDMSCAN_LOG_LEVEL)")
	pf.StringVar(&a.configPath, "config", "", "settings file (default: user config dir)")

	cmd.AddCommand(
		newStatusCmd(a),
		newJobsCmd(a),
		newScanCmd(a),
		newDiscoverCmd(a),
		newServeCmd(a),
	)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	level := parseLogLevel(flagOrEnv(cmd, "log-level", a.logLevel, "LEDMSCAN_LOG_LEVEL", "info"))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	a.store = openStore(a.configPath)
	settings := a.store.Get()
	a.printer = flagOrEnv(cmd, "printer", a.printer, "LEDMSCAN_PRINTER", settings.PrinterURL)
	a.sid = flagOrEnv(cmd, "sid", a.sid, "LEDMSCAN_SID", settings.SessionID)
	return nil
}

// openStore opens the settings file at path, or the default one when path
// is empty. Settings fall back to memory when the file cannot be used.
func openStore(path string) *config.Store {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			slog.Warn("settings disabled", "err", err)
			return config.NewMemoryStore()
		}
		path = p
	}
	store, err := config.NewStore(path)
	if err != nil {
		slog.Warn("settings disabled", "path", path, "err", err)
		return config.NewMemoryStore()
	}
	return store
}

// scanner builds a Scanner for the configured printer and remembers the
// printer and session for the next run.
func (a *app) scanner() (*scanner.Scanner, error) {
	if a.printer == "" {
		return nil, errors.New("no printer configured: pass --printer, set LEDMSCAN_PRINTER or run discover")
	}
	session, err := ledm.NewSession(a.printer, a.sid)
	if err != nil {
		return nil, fmt.Errorf("printer %q: %w", a.printer, err)
	}
	if s := a.store.Get(); s.PrinterURL != session.BaseURL() || s.SessionID != a.sid {
		s.PrinterURL = session.BaseURL()
		s.SessionID = a.sid
		if err := a.store.Update(s); err != nil {
			slog.Warn("settings save failed", "err", err)
		}
	}
	return scanner.New(session), nil
}

// flagOrEnv resolves a value from an explicitly set flag, then the
// environment, then fallback.
func flagOrEnv(cmd *cobra.Command, flag, value, env, fallback string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return value
	}
	return envStr(env, fallback)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
