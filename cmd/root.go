// Package cmd implements the xmexec command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mensylisir/xmexec/common"
	"github.com/mensylisir/xmexec/logger"
)

// errUnsuccessful is returned when every command ran but at least one did not succeed.
var errUnsuccessful = errors.New("one or more commands did not succeed")

type globalOptions struct {
	logLevel string
	verbose  bool
	logDir   string
	output   string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   common.AppName,
		Short: "Run shell commands locally or on remote hosts over SSH",
		Long: `xmexec runs command text through bash on this machine, or through the
remote user's shell over SSH, and reports stdout, stderr and exit status.

Examples:
  xmexec local -- ls -l /tmp
  xmexec local --dir /srv --sudo -- systemctl restart app
  xmexec remote --host 10.0.0.5 --user ops --key ~/.ssh/id_rsa -- uptime
  xmexec remote --inventory hosts.yaml --targets web1,db1 -- df -h
  xmexec push --inventory hosts.yaml ./app.conf /etc/app/app.conf`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return errors.Wrapf(err, "invalid --log-level %q", opts.logLevel)
			}
			if opts.output != outputText && opts.output != outputYAML {
				return errors.Errorf("invalid --output %q, want %s or %s", opts.output, outputText, outputYAML)
			}
			return logger.InitGlobalLogger(opts.logDir, opts.verbose, level)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&opts.logDir, "log-dir", "", "Write logs to daily rotated files in this directory instead of stderr")
	flags.StringVarP(&opts.output, "output", "o", outputText, "Result format: text or yaml")

	root.AddCommand(
		newLocalCommand(opts),
		newRemoteCommand(opts),
		newPushCommand(opts),
	)
	return root
}

// Execute runs the CLI and returns the process exit status.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		if !errors.Is(err, errUnsuccessful) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}
