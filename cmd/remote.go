package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mensylisir/xmexec/executor"
	"github.com/mensylisir/xmexec/logger"
)

type remoteOptions struct {
	targetOptions
	sudo         bool
	sudoPassword string
}

func newRemoteCommand(global *globalOptions) *cobra.Command {
	o := &remoteOptions{}
	cmd := &cobra.Command{
		Use:   "remote [flags] -- <command>",
		Short: "Run a command on one or more hosts over SSH",
		Long: `Run command text through the remote user's default shell. Each host gets
a fresh SSH connection; hosts from an inventory are handled in parallel and
reported in inventory order. Arguments are handled as for "local".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := o.resolve()
			if err != nil {
				return err
			}
			text := commandText(args)
			reports := o.forEachTarget(cmd.Context(), targets, func(ctx context.Context, t target) report {
				re, err := executor.NewRemoteExecutor(t.cfg)
				if err != nil {
					logger.Log.WithHost(t.cfg.Host).Warnf("Skipping host: %v", err)
					return newReport(label(t), nil, err)
				}
				if o.sudo {
					return newReport(label(t), re.RunSudo(ctx, text, o.sudoPassword), nil)
				}
				return newReport(label(t), re.Run(ctx, text), nil)
			})
			return printReports(cmd.OutOrStdout(), global.output, reports)
		},
	}
	o.addFlags(cmd)
	f := cmd.Flags()
	f.BoolVar(&o.sudo, "sudo", false, "Run through sudo")
	f.StringVar(&o.sudoPassword, "sudo-password", "", "Password fed to sudo -S (empty means passwordless sudo)")
	return cmd
}
