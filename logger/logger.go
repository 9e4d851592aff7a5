package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmexec/common"
)

// Log is the global logger instance. It starts out as a console logger at
// info level and is replaced by InitGlobalLogger.
var Log *XMLog

// XMLog wraps *logrus.Logger with execution-scoped helpers.
type XMLog struct {
	*logrus.Logger
}

var fieldsOrder = []string{common.HostName, common.RunID, common.CommandName}

func init() {
	Log = newConsoleLog(logrus.InfoLevel, false)
}

func newConsoleLog(level logrus.Level, verbose bool) *XMLog {
	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(os.Stderr)
	l.SetFormatter(&Formatter{
		TimestampFormat:        "15:04:05",
		DisplayLevelName:       displayMode(verbose),
		DisableCaller:          true,
		FieldsDisplayWithOrder: fieldsOrder,
	})
	return &XMLog{Logger: l}
}

func displayMode(verbose bool) LevelNameDisplayMode {
	if verbose {
		return ShowAll
	}
	return ShowAboveWarn
}

// InitGlobalLogger replaces Log. With an empty outputPath logs go to stderr;
// otherwise they go to <outputPath>/xmexec.log, rotated daily and kept for a week.
func InitGlobalLogger(outputPath string, verbose bool, defaultLevel logrus.Level) error {
	l, err := NewXMLog(outputPath, verbose, defaultLevel)
	if err != nil {
		return err
	}
	Log = l
	return nil
}

// NewXMLog builds a logger without touching the global one.
func NewXMLog(outputPath string, verbose bool, defaultLevel logrus.Level) (*XMLog, error) {
	level := defaultLevel
	if verbose {
		level = logrus.DebugLevel
	}
	if outputPath == "" {
		return newConsoleLog(level, verbose), nil
	}

	if err := os.MkdirAll(outputPath, common.FileMode0755); err != nil {
		return nil, fmt.Errorf("failed to create log output directory %s: %w", outputPath, err)
	}
	logFilePath := filepath.Join(outputPath, common.AppName+".log")
	writer, err := rotatelogs.New(
		logFilePath+".%Y%m%d",
		rotatelogs.WithLinkName(logFilePath),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rotatelogs for %s: %w", logFilePath, err)
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetReportCaller(true)
	fileFormatter := &Formatter{
		TimestampFormat:        "2006-01-02 15:04:05.000 MST",
		NoColors:               true,
		DisplayLevelName:       ShowAll,
		FieldsDisplayWithOrder: fieldsOrder,
		CustomCallerFormatter: func(frame *runtime.Frame) string {
			return fmt.Sprintf("[%s:%d]", filepath.Base(frame.File), frame.Line)
		},
	}
	l.SetFormatter(fileFormatter)

	writers := lfshook.WriterMap{}
	for _, lvl := range logrus.AllLevels {
		writers[lvl] = writer
	}
	l.Hooks.Add(lfshook.NewHook(writers, fileFormatter))
	// The hook owns file output; the default writer would duplicate it.
	l.SetOutput(io.Discard)

	return &XMLog{Logger: l}, nil
}

// WithHost returns an entry tagged with the target host.
func (xl *XMLog) WithHost(host string) *logrus.Entry {
	return xl.WithField(common.HostName, host)
}

// WithRun returns an entry tagged with host, run id and the (redacted) command text.
func (xl *XMLog) WithRun(host, runID, command string) *logrus.Entry {
	return xl.WithFields(logrus.Fields{
		common.HostName:    host,
		common.RunID:       runID,
		common.CommandName: command,
	})
}
