package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mdobak/go-xerrors"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
)

var logCloser func()

func setupLogging(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verboseLog {
		level = slog.LevelDebug
		// Library packages log through glog.
		flag.Set("logtostderr", "true")
		flag.Set("v", "1")
	}

	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	})
	if logFile == "" {
		slog.SetDefault(slog.New(text))
		return nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("could not open log file: %w", err)
	}
	logCloser = func() { f.Close() }
	json := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	})
	slog.SetDefault(slog.New(slogmulti.Fanout(json, text)))
	return nil
}

func closeLogging() {
	if logCloser != nil {
		logCloser()
		logCloser = nil
	}
}

// logError logs err with the stack trace of the call site attached.
func logError(err error) {
	slog.Error(err.Error(), slog.Any("error", xerrors.New(err)))
}

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindAny {
		if err, ok := a.Value.Any().(error); ok {
			a.Value = fmtErr(err)
		}
	}
	return a
}

func fmtErr(err error) slog.Value {
	attrs := []slog.Attr{slog.String("msg", err.Error())}
	if frames := marshalStack(err); frames != nil {
		attrs = append(attrs, slog.Any("trace", frames))
	}
	return slog.GroupValue(attrs...)
}

func marshalStack(err error) []stackFrame {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}
	frames := trace.Frames()
	res := make([]stackFrame, len(frames))
	for i, f := range frames {
		res[i] = stackFrame{
			Source: filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File)),
			Func:   filepath.Base(f.Function),
			Line:   f.Line,
		}
	}
	return res
}
