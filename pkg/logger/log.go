package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	CategoryField = "category"
)

const (
	CategoryTx      = "tx"
	CategoryToken   = "token"
	CategoryNetwork = "network"
	CategorySwap    = "swap"
)

// Category returns a child logger that tags every event with category
func Category(l zerolog.Logger, category string) zerolog.Logger {
	return l.With().Str(CategoryField, category).Logger()
}

// New builds a console logger writing to out
func New(out io.Writer, level string, verbose bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    false,
		TimeFormat: time.DateTime,
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s: ", i)
		},
		FieldsOrder: []string{CategoryField},
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}

	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}

// Init configures the global logger used by the CLI
func Init(level string, verbose bool) zerolog.Logger {
	l := New(os.Stderr, level, verbose)
	log.Logger = l
	return l
}
