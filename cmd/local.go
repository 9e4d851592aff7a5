package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mensylisir/xmexec/common"
	"github.com/mensylisir/xmexec/config"
	"github.com/mensylisir/xmexec/executor"
)

type localOptions struct {
	dir          string
	inventory    string
	sudo         bool
	sudoPassword string
}

func newLocalCommand(global *globalOptions) *cobra.Command {
	o := &localOptions{}
	cmd := &cobra.Command{
		Use:   "local [flags] -- <command>",
		Short: "Run a command on this machine",
		Long: `Run command text through /bin/bash -c on this machine, or through bash
inside the Linux subsystem on Windows.

A single argument is passed to the shell as is, so pipes and redirections
work when the whole command is quoted. Several arguments are quoted one by
one and run as a plain argument vector.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []executor.LocalOption{}
			workDir := o.dir
			if o.inventory != "" {
				inv, err := config.Load(o.inventory)
				if err != nil {
					return err
				}
				if workDir == "" {
					workDir = inv.Local.WorkDir
				}
			}
			if workDir != "" {
				opts = append(opts, executor.WithWorkDir(workDir))
			}
			le := executor.NewLocalExecutor(opts...)

			text := commandText(args)
			var result *executor.CommandResult
			if o.sudo {
				result = le.ExecuteSudo(cmd.Context(), text, o.sudoPassword)
			} else {
				result = le.Execute(cmd.Context(), text)
			}
			return printReports(cmd.OutOrStdout(), global.output, []report{newReport(common.LocalHost, result, nil)})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.dir, "dir", "C", "", "Working directory")
	f.StringVar(&o.inventory, "inventory", "", "Read local.workDir from this inventory")
	f.BoolVar(&o.sudo, "sudo", false, "Run through sudo")
	f.StringVar(&o.sudoPassword, "sudo-password", "", "Password fed to sudo -S (empty means passwordless sudo)")
	return cmd
}
