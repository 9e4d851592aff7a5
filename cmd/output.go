package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mensylisir/xmexec/executor"
)

const (
	outputText = "text"
	outputYAML = "yaml"
)

// report is the printed outcome for one target.
type report struct {
	Host   string                  `yaml:"host"`
	Result *executor.CommandResult `yaml:"result,omitempty"`
	Error  string                  `yaml:"error,omitempty"`
}

func newReport(host string, result *executor.CommandResult, err error) report {
	r := report{Host: host, Result: result}
	switch {
	case err != nil:
		r.Error = err.Error()
	case result != nil && result.Err != nil:
		r.Error = result.Err.Error()
	}
	return r
}

func (r report) success() bool {
	return r.Error == "" && (r.Result == nil || r.Result.Success())
}

// printReports writes reports in order and returns errUnsuccessful if any failed.
func printReports(w io.Writer, format string, reports []report) error {
	if format == outputYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			writeText(w, r, len(reports) > 1)
		}
	}

	for _, r := range reports {
		if !r.success() {
			return errUnsuccessful
		}
	}
	return nil
}

func writeText(w io.Writer, r report, header bool) {
	if header {
		status := "ok"
		if !r.success() {
			status = "FAILED"
		}
		if r.Result != nil && r.Result.Err == nil {
			fmt.Fprintf(w, "==> %s [%s, exit %d, %s]\n", r.Host, status, r.Result.ExitCode, r.Result.Duration().Round(time.Millisecond))
		} else {
			fmt.Fprintf(w, "==> %s [%s]\n", r.Host, status)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(w, "error: %s\n", r.Error)
		return
	}
	if r.Result == nil {
		if !header {
			fmt.Fprintln(w, "ok")
		}
		return
	}
	writeBlock(w, r.Result.Output)
	if r.Result.Errors != "" {
		for _, line := range strings.SplitAfter(strings.TrimRight(r.Result.Errors, "\n"), "\n") {
			fmt.Fprintf(w, "stderr: %s", line)
		}
		fmt.Fprintln(w)
	}
	if !header && r.Result.ExitCode != 0 {
		fmt.Fprintf(w, "exit status %d\n", r.Result.ExitCode)
	}
}

func writeBlock(w io.Writer, s string) {
	if s == "" {
		return
	}
	io.WriteString(w, s)
	if !strings.HasSuffix(s, "\n") {
		io.WriteString(w, "\n")
	}
}
