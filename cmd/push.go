package cmd

import (
	"context"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mensylisir/xmexec/executor"
	"github.com/mensylisir/xmexec/file"
)

type pushOptions struct {
	targetOptions
	mode   string
	verify bool
}

func newPushCommand(global *globalOptions) *cobra.Command {
	o := &pushOptions{}
	cmd := &cobra.Command{
		Use:   "push [flags] <local-file> <remote-path>",
		Short: "Copy a file to one or more hosts over SFTP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localPath, remotePath := args[0], args[1]
			mode, err := strconv.ParseUint(o.mode, 8, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid --mode %q", o.mode)
			}
			if _, err := os.Stat(localPath); err != nil {
				return err
			}
			var localSum string
			if o.verify {
				if localSum, err = file.MD5(localPath); err != nil {
					return err
				}
			}
			targets, err := o.resolve()
			if err != nil {
				return err
			}
			reports := o.forEachTarget(cmd.Context(), targets, func(ctx context.Context, t target) report {
				re, err := executor.NewRemoteExecutor(t.cfg)
				if err != nil {
					return newReport(label(t), nil, err)
				}
				if err := re.Upload(ctx, localPath, remotePath, os.FileMode(mode)); err != nil {
					return newReport(label(t), nil, err)
				}
				if !o.verify {
					return newReport(label(t), nil, nil)
				}
				return newReport(label(t), nil, verifyChecksum(ctx, re, remotePath, localSum))
			})
			return printReports(cmd.OutOrStdout(), global.output, reports)
		},
	}
	o.addFlags(cmd)
	f := cmd.Flags()
	f.StringVar(&o.mode, "mode", "0644", "Octal permissions of the remote file")
	f.BoolVar(&o.verify, "verify", false, "Compare the remote md5sum with the local file after upload")
	return cmd
}

func verifyChecksum(ctx context.Context, re *executor.RemoteExecutor, remotePath, want string) error {
	r := re.Run(ctx, "md5sum "+executor.ShellEscape(remotePath))
	if r.Err != nil {
		return errors.Wrap(r.Err, "failed to checksum remote file")
	}
	if r.ExitCode != 0 {
		return errors.Errorf("md5sum exited with %d: %s", r.ExitCode, r.Errors)
	}
	got, err := file.ParseMD5Sum(r.Output)
	if err != nil {
		return err
	}
	if got != want {
		return errors.Errorf("checksum mismatch for %s: local %s, remote %s", remotePath, want, got)
	}
	return nil
}
