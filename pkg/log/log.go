package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Until Init runs it discards
// everything, which keeps library consumers quiet unless the embedding
// program asked for logs.
var Logger = zerolog.Nop()

// Init configures the root logger from the CLI's --log-level and
// --log-json flags. Unknown level names fall back to info. Console
// output is the default; JSON is for machine consumption. out defaults
// to stdout.
func Init(level string, jsonOutput bool, out io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if out == nil {
		out = os.Stdout
	}
	w := out
	if !jsonOutput {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// WithComponent returns a child logger scoped to one of the store's
// subsystems (set, heads, dagstore, broker, crdt). Components hold the
// child as a struct field so every event they emit carries the tag.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
