package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

const (
	timeFormat = "2006-01-02T15:04:05.000Z07:00"
	errorKey   = "err"
)

// Logger is a value-type structured logger. With returns a copy carrying
// extra fixed fields; the copies share the same output.
type Logger struct {
	zl     *zerolog.Logger
	fields []Field
}

var nop = zerolog.Nop()

// Nop returns a logger that writes nothing but is not the zero Logger, so
// components that substitute a default for IsZero keep it.
func Nop() Logger { return Logger{zl: &nop} }

// NewConsole logs human-readable lines to stderr.
func NewConsole(level string) Logger {
	return newLogger(consoleWriter(os.Stderr), levelOr(level, LevelInfo))
}

// NewJSON logs one JSON object per line to w.
func NewJSON(w io.Writer, level string) Logger {
	return newLogger(w, levelOr(level, LevelInfo))
}

func newLogger(w io.Writer, lvl Level) Logger {
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return Logger{zl: &zl}
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

func (l Logger) IsZero() bool { return l.zl == nil && len(l.fields) == 0 }

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

func (l Logger) emit(lvl Level, msg string, fields []Field) {
	if l.zl == nil {
		return
	}
	e := l.zl.WithLevel(lvl)
	if e == nil {
		return
	}
	// emit <- Info/Debug/... <- caller
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}
