package xlog

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"

	slogzerolog "github.com/samber/slog-zerolog/v2"
)

// TextAdapter turns a stream of arbitrary writes into one log event per line,
// for wiring plain io.Writer consumers (the standard log package, a piped
// child process's stdout) into a structured logger.
type TextAdapter struct {
	logger       *Logger
	defaultLevel Level
	buf          bytes.Buffer
	e            *Event
}

func (w *TextAdapter) Write(p []byte) (n int, err error) {
	return w.WriteLevel(w.defaultLevel, p)
}
func (w *TextAdapter) WriteLevel(lv Level, p []byte) (n int, err error) {
	if w.e == nil {
		e := w.logger.WithLevel(lv)
		if !e.Enabled() {
			return len(p), nil
		}
		w.e = e
	}
	return w.buf.Write(p)
}
func (w *TextAdapter) Flush() error {
	if e := w.e; e != nil {
		w.e = nil
		e.Msg(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

type lineSplittingWriter struct {
	te *TextAdapter
}

func (l lineSplittingWriter) Write(p []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(p))
	for scanner.Scan() {
		l.te.WriteLevel(l.te.defaultLevel, scanner.Bytes())
		l.te.Flush()
	}
	return len(p), nil
}

// ToTextWriter creates a writer that logs one event per newline-delimited line.
func ToTextWriter(logger *Logger, level Level) (w io.Writer, te *TextAdapter) {
	te = &TextAdapter{logger: logger, defaultLevel: level}
	return lineSplittingWriter{te}, te
}

// ToSlog creates a slog.Logger that writes through the given zerolog Logger.
func ToSlog(logger *Logger) *slog.Logger {
	return slog.New(slogzerolog.Option{
		Logger: logger,
	}.NewZerologHandler())
}
