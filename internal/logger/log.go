package logger

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	colorRed     = 31
	colorYellow  = 33
	colorMagenta = 35
	colorCyan    = 36
	colorWhite   = 37
)

// Init points the global logger at a console writer on out.
func Init(level string, out io.Writer, noColor bool) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	writer := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    noColor,
		TimeFormat: "[" + time.RFC3339 + "]",
		FormatMessage: func(i interface{}) string {
			return colorize(i, colorWhite, noColor)
		},
		FormatFieldName: func(i interface{}) string {
			return colorize(fmt.Sprintf("%s: ", i), colorYellow, noColor)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s%s%s",
				colorize("[", colorYellow, noColor),
				colorize(i, colorCyan, noColor),
				colorize("]", colorYellow, noColor),
			)
		},
		FormatErrFieldName: func(i interface{}) string {
			return colorize(fmt.Sprintf("%s: ", i), colorRed, noColor)
		},
		FormatErrFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s%s%s",
				colorize("[", colorRed, noColor),
				colorize(i, colorMagenta, noColor),
				colorize("]", colorRed, noColor),
			)
		},
	}
	log.Logger = log.Output(writer).Level(lvl)
	return nil
}

var levelDefinitions = []zerolog.Level{
	zerolog.TraceLevel,
	zerolog.DebugLevel,
	zerolog.InfoLevel,
	zerolog.WarnLevel,
	zerolog.ErrorLevel,
	zerolog.FatalLevel,
	zerolog.PanicLevel,
	zerolog.Disabled,
}

func ParseLevel(level string) (zerolog.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		return zerolog.InfoLevel, nil
	}
	for _, l := range levelDefinitions {
		if normalized == l.String() {
			return l, nil
		}
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
}

func colorize(s interface{}, c int, disabled bool) string {
	if disabled {
		return fmt.Sprintf("%v", s)
	}
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}
