package executor

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmexec/connector"
	"github.com/mensylisir/xmexec/logger"
)

// ErrInvalidArgument is wrapped by construction errors caused by bad input.
var ErrInvalidArgument = connector.ErrInvalidConfig

// RemoteConfig describes the host a RemoteExecutor talks to.
type RemoteConfig struct {
	Username string
	Host     string
	Port     int
	// Password is used for password auth, or as the passphrase of an encrypted KeyFile.
	Password       string
	KeyFile        string
	AgentSocket    string
	KnownHostsFile string
	Timeout        time.Duration
	Bastion        string
	BastionPort    int
	BastionUser    string
}

// RemoteOption configures a RemoteExecutor.
type RemoteOption func(*RemoteExecutor)

// WithDialer replaces the SSH dialer.
func WithDialer(d connector.Dialer) RemoteOption {
	return func(r *RemoteExecutor) {
		r.dialer = d
	}
}

// RemoteExecutor runs command text on one host over SSH. Every call opens its
// own connection and closes it before returning, so no shell state carries
// over between calls. Safe for concurrent use.
type RemoteExecutor struct {
	cfg    connector.Config
	dialer connector.Dialer
}

// NewRemoteExecutor validates cfg and loads the key file. It does not connect.
func NewRemoteExecutor(cfg RemoteConfig, opts ...RemoteOption) (*RemoteExecutor, error) {
	connCfg, err := connector.ValidateConfig(connector.Config{
		Username:       cfg.Username,
		Password:       cfg.Password,
		Address:        cfg.Host,
		Port:           cfg.Port,
		KeyFile:        cfg.KeyFile,
		AgentSocket:    cfg.AgentSocket,
		KnownHostsFile: cfg.KnownHostsFile,
		Timeout:        cfg.Timeout,
		Bastion:        cfg.Bastion,
		BastionPort:    cfg.BastionPort,
		BastionUser:    cfg.BastionUser,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create remote executor")
	}

	r := &RemoteExecutor{cfg: connCfg, dialer: connector.NewDialer()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Endpoint returns host:port of the target.
func (r *RemoteExecutor) Endpoint() string {
	return net.JoinHostPort(r.cfg.Address, strconv.Itoa(r.cfg.Port))
}

// Run executes command verbatim through the remote user's default shell.
func (r *RemoteExecutor) Run(ctx context.Context, command string) *CommandResult {
	return r.run(ctx, command, command)
}

// RunSudo executes command through sudo. See RemoteSudoCommand for the rewrite.
func (r *RemoteExecutor) RunSudo(ctx context.Context, command, password string) *CommandResult {
	return r.run(ctx, RemoteSudoCommand(command, password), redactedSudoCommand(command, password))
}

// Execute is Run.
func (r *RemoteExecutor) Execute(ctx context.Context, command string) *CommandResult {
	return r.Run(ctx, command)
}

// ExecuteSudo is RunSudo.
func (r *RemoteExecutor) ExecuteSudo(ctx context.Context, command, password string) *CommandResult {
	return r.RunSudo(ctx, command, password)
}

func (r *RemoteExecutor) run(ctx context.Context, text, display string) *CommandResult {
	result := newResult(display)
	log := logger.Log.WithRun(r.cfg.Address, result.RunID, display)

	conn, err := r.dialer.Dial(ctx, r.cfg)
	if err != nil {
		log.Warnf("Failed to connect to %s: %v", r.Endpoint(), err)
		return result.fail(errors.Wrapf(err, "failed to connect to %s", r.Endpoint()))
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Debugf("Error closing connection: %v", cerr)
		}
	}()

	stdout, stderr, exitCode, err := conn.Exec(ctx, text)
	if err != nil {
		log.Warnf("Remote command failed after %s: %v", time.Since(result.StartTime), err)
		return result.fail(err)
	}
	result.complete(string(stdout), string(stderr), exitCode)
	log.Debugf("Remote command exited with %d after %s", exitCode, result.Duration())
	return result
}

// Upload copies a local file to the host and sets its mode.
func (r *RemoteExecutor) Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	conn, err := r.dialer.Dial(ctx, r.cfg)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", r.Endpoint())
	}
	defer conn.Close()

	logger.Log.WithHost(r.cfg.Address).Debugf("Uploading %s to %s", localPath, remotePath)
	return conn.Upload(ctx, localPath, remotePath, mode)
}

// Download copies a file from the host to localPath.
func (r *RemoteExecutor) Download(ctx context.Context, remotePath, localPath string) error {
	conn, err := r.dialer.Dial(ctx, r.cfg)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", r.Endpoint())
	}
	defer conn.Close()

	logger.Log.WithHost(r.cfg.Address).Debugf("Downloading %s to %s", remotePath, localPath)
	return conn.Download(ctx, remotePath, localPath)
}
