// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdobak/go-xerrors"
)

// stackFrame is one frame of a captured stack trace.
type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// Initialize installs a JSON slog handler as the default logger. The level
// comes from the LOOKOUT_LOG_LEVEL environment variable (debug, info, warn,
// error; defaults to info). Error attrs are expanded with stack traces when
// the error carries one.
func Initialize() {
	level := decodeLogLevel(strings.ToLower(os.Getenv("LOOKOUT_LOG_LEVEL")))

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	})
	slog.SetDefault(slog.New(handler))
}

func decodeLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindAny {
		if err, ok := a.Value.Any().(error); ok {
			a.Value = fmtErr(err)
		}
	}
	return a
}

func marshalStack(err error) []stackFrame {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}

	frames := trace.Frames()
	s := make([]stackFrame, len(frames))
	for i, v := range frames {
		s[i] = stackFrame{
			Source: filepath.Join(
				filepath.Base(filepath.Dir(v.File)),
				filepath.Base(v.File),
			),
			Func: filepath.Base(v.Function),
			Line: v.Line,
		}
	}
	return s
}

// fmtErr renders an error as a group with `msg` and, when available, `trace`.
func fmtErr(err error) slog.Value {
	groupValues := []slog.Attr{slog.String("msg", err.Error())}
	if frames := marshalStack(err); frames != nil {
		groupValues = append(groupValues, slog.Any("trace", frames))
	}
	return slog.GroupValue(groupValues...)
}

// WrapError attaches a message and a stack trace to err. Returns nil for a
// nil err so call sites can wrap unconditionally.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := xerrors.WithStackTrace(err, 1)
	return xerrors.Newf("%s: %v", msg, wrapped)
}
