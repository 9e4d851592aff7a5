package cmd

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mensylisir/xmexec/config"
	"github.com/mensylisir/xmexec/executor"
)

// targetOptions selects remote hosts either from flags or from an inventory.
type targetOptions struct {
	host           string
	user           string
	password       string
	keyFile        string
	port           int
	agentSocket    string
	knownHostsFile string
	timeout        time.Duration
	bastion        string
	bastionPort    int
	bastionUser    string

	inventory string
	targets   []string
	parallel  int
}

type target struct {
	name string
	cfg  executor.RemoteConfig
}

func (o *targetOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.host, "host", "", "Remote host address")
	f.StringVarP(&o.user, "user", "u", "", "Remote user (default: inventory default or root)")
	f.StringVarP(&o.password, "password", "p", "", "Password, or passphrase of an encrypted --key")
	f.StringVarP(&o.keyFile, "key", "i", "", "Private key file")
	f.IntVar(&o.port, "port", 0, "SSH port (default 22)")
	f.StringVar(&o.agentSocket, "agent-socket", "", `SSH agent socket, or "env:SSH_AUTH_SOCK"`)
	f.StringVar(&o.knownHostsFile, "known-hosts", "", "Verify host keys against this known_hosts file")
	f.DurationVar(&o.timeout, "timeout", 0, "SSH connect timeout (default 30s)")
	f.StringVar(&o.bastion, "bastion", "", "Jump through this bastion host")
	f.IntVar(&o.bastionPort, "bastion-port", 0, "Bastion SSH port (default 22)")
	f.StringVar(&o.bastionUser, "bastion-user", "", "Bastion user (default: --user)")
	f.StringVar(&o.inventory, "inventory", "", "YAML inventory of hosts")
	f.StringSliceVar(&o.targets, "targets", nil, "Comma separated inventory host names (default: all)")
	f.IntVar(&o.parallel, "parallel", 10, "Maximum number of hosts handled at once")
	cmd.MarkFlagsMutuallyExclusive("host", "inventory")
	cmd.MarkFlagsOneRequired("host", "inventory")
}

func (o *targetOptions) resolve() ([]target, error) {
	if o.inventory == "" {
		if len(o.targets) > 0 {
			return nil, errors.New("--targets requires --inventory")
		}
		user := o.user
		if user == "" {
			user = config.DefaultUser
		}
		return []target{{
			name: o.host,
			cfg: executor.RemoteConfig{
				Username:       user,
				Host:           o.host,
				Port:           o.port,
				Password:       o.password,
				KeyFile:        o.keyFile,
				AgentSocket:    o.agentSocket,
				KnownHostsFile: o.knownHostsFile,
				Timeout:        o.timeout,
				Bastion:        o.bastion,
				BastionPort:    o.bastionPort,
				BastionUser:    o.bastionUser,
			},
		}}, nil
	}

	inv, err := config.Load(o.inventory)
	if err != nil {
		return nil, err
	}
	hosts, err := inv.Select(o.targets)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, errors.Errorf("inventory %s has no hosts", o.inventory)
	}
	targets := make([]target, 0, len(hosts))
	for _, h := range hosts {
		cfg := h.RemoteConfig()
		if o.password != "" {
			cfg.Password = o.password
		}
		targets = append(targets, target{name: h.Name, cfg: cfg})
	}
	return targets, nil
}

// forEachTarget runs fn for every target with bounded parallelism and
// returns the reports in target order.
func (o *targetOptions) forEachTarget(ctx context.Context, targets []target, fn func(context.Context, target) report) []report {
	reports := make([]report, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	if o.parallel > 0 {
		g.SetLimit(o.parallel)
	}
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			reports[i] = fn(gctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func label(t target) string {
	if t.name != "" && t.name != t.cfg.Host {
		return t.name
	}
	if t.cfg.Port > 0 {
		return t.cfg.Host + ":" + strconv.Itoa(t.cfg.Port)
	}
	return t.cfg.Host
}

// commandText turns positional arguments into shell text. One argument is
// taken verbatim; several are escaped so each stays a single word.
func commandText(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	words := make([]string, len(args))
	for i, arg := range args {
		words[i] = executor.ShellEscape(arg)
	}
	return strings.Join(words, " ")
}
