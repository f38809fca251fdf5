// Package logger builds the process-wide structured logger used across the
// bus: zerolog for structured fields, lipgloss for colorized console level
// tags when attached to a terminal (detected via go-isatty), and lumberjack
// for optional rotated file output — the same combination the teacher repo
// wires into its own logging layer.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the root logger.
type Options struct {
	// Level is one of trace, debug, info, warn, error. Defaults to info.
	Level string
	// Service tags every record with this service/node name.
	Service string
	// FilePath, if set, also writes rotated JSON logs via lumberjack.
	FilePath string
}

var (
	styleDebug = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// New builds a root zerolog.Logger per Options. Callers scope it further
// per node/service/subscription via .With().Str(...).Logger().
func New(opts Options) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		console.FormatLevel = styledLevel
	}

	writers := []io.Writer{console}
	if opts.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", opts.Service).
		Logger()
}

func styledLevel(i any) string {
	s, _ := i.(string)
	switch strings.ToLower(s) {
	case "debug":
		return styleDebug.Render("DEBUG")
	case "info":
		return styleInfo.Render("INFO")
	case "warn":
		return styleWarn.Render("WARN")
	case "error":
		return styleError.Render("ERROR")
	default:
		return strings.ToUpper(s)
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info", "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// Nop returns a logger that discards everything, for tests that don't care
// about log output.
func Nop() zerolog.Logger {
	return zerolog.New(io.Discard)
}
