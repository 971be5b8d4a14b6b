package logx

import (
	"io"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// callerSkip is the number of frames between zerolog and the code that
// called Debug/Info/Warn/Error.
const callerSkip = 2

func init() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}
}

// source yields the zerolog.Logger entries are written to. Service swaps
// its logger on Apply; fixed loggers never change.
type source interface {
	current() zerolog.Logger
}

type fixed zerolog.Logger

func (f fixed) current() zerolog.Logger { return zerolog.Logger(f) }

// Logger is a structured logger bound to a source plus fixed fields.
// The zero value discards everything.
type Logger struct {
	src    source
	fields []Field
}

// Nop returns a logger that never writes anything.
func Nop() Logger { return Logger{src: fixed(zerolog.Nop())} }

// NewWriter returns a JSON logger on w.
func NewWriter(w io.Writer, level string) Logger {
	return Logger{src: fixed(zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger())}
}

func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

// Component tags every entry with comp=name.
func (l Logger) Component(name string) Logger { return l.With(String("comp", name)) }

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(l.fields[:len(l.fields):len(l.fields)], fields...)
	return l
}

func (l Logger) Debug(msg string, fields ...Field) { l.write(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(zerolog.ErrorLevel, msg, fields) }

func (l Logger) write(level zerolog.Level, msg string, fields []Field) {
	if l.src == nil {
		return
	}
	zl := l.src.current()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	e.Caller(callerSkip)
	for _, group := range [][]Field{l.fields, fields} {
		for _, f := range group {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}
