package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/xmexec/common"
)

func TestGlobalLoggerInitializedByDefault(t *testing.T) {
	require.NotNil(t, Log)
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())
}

func TestInitGlobalLogger(t *testing.T) {
	prevLog := Log
	defer func() { Log = prevLog }()

	tests := []struct {
		name          string
		outputPath    func(t *testing.T) string
		verbose       bool
		defaultLevel  logrus.Level
		expectedLevel logrus.Level
		expectFile    bool
	}{
		{
			name:          "console, info",
			outputPath:    func(t *testing.T) string { return "" },
			defaultLevel:  logrus.InfoLevel,
			expectedLevel: logrus.InfoLevel,
		},
		{
			name:          "console, verbose forces debug",
			outputPath:    func(t *testing.T) string { return "" },
			verbose:       true,
			defaultLevel:  logrus.WarnLevel,
			expectedLevel: logrus.DebugLevel,
		},
		{
			name:          "file output in a directory that does not exist yet",
			outputPath:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nested", "logs") },
			defaultLevel:  logrus.InfoLevel,
			expectedLevel: logrus.InfoLevel,
			expectFile:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.outputPath(t)
			require.NoError(t, InitGlobalLogger(dir, tt.verbose, tt.defaultLevel))
			require.NotNil(t, Log)
			assert.Equal(t, tt.expectedLevel, Log.GetLevel())

			if !tt.expectFile {
				return
			}
			Log.WithHost("web1").Info("file logging works")

			matches, err := filepath.Glob(filepath.Join(dir, common.AppName+".log.*"))
			require.NoError(t, err)
			require.NotEmpty(t, matches, "expected a rotated log file in %s", dir)
			content, err := os.ReadFile(matches[0])
			require.NoError(t, err)
			assert.Contains(t, string(content), "file logging works")
			assert.Contains(t, string(content), "[INFO]")
			assert.Contains(t, string(content), "host:web1")
		})
	}
}

func TestWithRunFields(t *testing.T) {
	var buf bytes.Buffer
	l := newConsoleLog(logrus.DebugLevel, true)
	l.SetOutput(&buf)

	l.WithRun("db1", "1234", "uptime").Debug("command finished")

	out := buf.String()
	assert.Contains(t, out, "[host:db1 | run_id:1234 | command:uptime] command finished")
	assert.Contains(t, out, "[DEBU]")
}

func TestFormatterOutput(t *testing.T) {
	fixedTime, _ := time.Parse(time.RFC3339, "2023-10-27T10:30:45Z")

	testCases := []struct {
		name            string
		formatter       *Formatter
		level           logrus.Level
		fields          logrus.Fields
		message         string
		expectedPattern string
	}{
		{
			name: "colors, level shown, single field",
			formatter: &Formatter{
				TimestampFormat:  "15:04:05",
				DisplayLevelName: ShowAll,
				DisableCaller:    true,
			},
			level:           logrus.InfoLevel,
			fields:          logrus.Fields{"key1": "val1"},
			message:         "console test",
			expectedPattern: "10:30:45 \x1b[37m[INFO]\x1b[0m [key1:val1] console test\n",
		},
		{
			name: "ordered fields first, rest alphabetical, caller appended",
			formatter: &Formatter{
				TimestampFormat:        "2006/01/02 15:04:05.000 MST",
				NoColors:               true,
				DisplayLevelName:       ShowAboveWarn,
				FieldsDisplayWithOrder: []string{common.HostName, common.RunID},
			},
			level: logrus.WarnLevel,
			fields: logrus.Fields{
				"zeta":          "z",
				common.RunID:    "r-1",
				"alpha":         "a",
				common.HostName: "web1",
			},
			message:         "ordered",
			expectedPattern: "2023/10/27 10:30:45.000 UTC [WARN] [host:web1 | run_id:r-1 | alpha:a | zeta:z] ordered (logger_test.go:",
		},
		{
			name: "level hidden below warn",
			formatter: &Formatter{
				DisableTimestamp: true,
				NoColors:         true,
				DisplayLevelName: ShowAboveWarn,
				DisableCaller:    true,
			},
			level:           logrus.InfoLevel,
			message:         "quiet",
			expectedPattern: "quiet\n",
		},
		{
			name: "hide keys and truncate values",
			formatter: &Formatter{
				DisableTimestamp:    true,
				NoColors:            true,
				DisplayLevelName:    HideAll,
				HideKeys:            true,
				DisableCaller:       true,
				MaxFieldValueLength: 7,
				FieldSeparator:      " - ",
			},
			level:           logrus.DebugLevel,
			fields:          logrus.Fields{"long_field_name": "thisisverylongdata", "short_field": "abc"},
			message:         "minimal",
			expectedPattern: "[thisisv... - abc] minimal\n",
		},
		{
			name: "truncate multibyte values on rune boundaries",
			formatter: &Formatter{
				DisableTimestamp:    true,
				NoColors:            true,
				DisplayLevelName:    HideAll,
				HideKeys:            true,
				DisableCaller:       true,
				MaxFieldValueLength: 3,
			},
			level:           logrus.DebugLevel,
			fields:          logrus.Fields{"note": "节点服务器一号"},
			message:         "wide",
			expectedPattern: "[节点服...] wide\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := logrus.New()
			l.SetOutput(&buf)
			l.SetFormatter(tc.formatter)
			l.SetLevel(logrus.TraceLevel)
			l.SetReportCaller(!tc.formatter.DisableCaller)

			entry := logrus.NewEntry(l).WithFields(tc.fields)
			entry.Time = fixedTime
			entry.Log(tc.level, tc.message)

			output := buf.String()
			assert.True(t, strings.Contains(output, tc.expectedPattern), "got %q, want pattern %q", output, tc.expectedPattern)
		})
	}
}
