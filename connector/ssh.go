package connector

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/mensylisir/xmexec/common"
	"github.com/mensylisir/xmexec/logger"
)

// ErrInvalidConfig marks a Config that can never produce a connection.
var ErrInvalidConfig = errors.New("invalid ssh configuration")

// Config describes how to reach and authenticate against one host.
type Config struct {
	Username string
	Password string
	Address  string
	Port     int
	// PrivateKey holds PEM key material. When empty and KeyFile is set,
	// ValidateConfig loads it from KeyFile.
	PrivateKey string
	KeyFile    string
	// AgentSocket is a unix socket path, or "env:NAME" to read it from $NAME.
	AgentSocket string
	// KnownHostsFile enables host key verification. Without it any host key is accepted.
	KnownHostsFile string
	Timeout        time.Duration
	Bastion        string
	BastionPort    int
	BastionUser    string
}

const socketEnvPrefix = "env:"

var _ Connection = (*connection)(nil)

type connection struct {
	mu       sync.Mutex
	client   *ssh.Client
	jump     *ssh.Client
	config   Config
	agentSoc net.Conn
}

// ValidateConfig checks cfg, loads the key file, verifies the key can be
// used with the given password, and fills in defaults.
func ValidateConfig(cfg Config) (Config, error) {
	if strings.TrimSpace(cfg.Username) == "" {
		return cfg, errors.Wrap(ErrInvalidConfig, "no username specified for SSH connection")
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return cfg, errors.Wrap(ErrInvalidConfig, "no address specified for SSH connection")
	}
	if cfg.Password == "" && cfg.PrivateKey == "" && cfg.KeyFile == "" && cfg.AgentSocket == "" {
		return cfg, errors.Wrap(ErrInvalidConfig, "must specify at least one of password, private key, key file or agent socket")
	}

	if cfg.PrivateKey == "" && cfg.KeyFile != "" {
		content, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return cfg, errors.Wrapf(err, "failed to read key file %q", cfg.KeyFile)
		}
		cfg.PrivateKey = string(content)
	}
	if cfg.PrivateKey != "" {
		if _, _, err := parseSigner(cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Port <= 0 {
		cfg.Port = common.DefaultSSHPort
	}
	if cfg.Bastion != "" {
		if cfg.BastionPort <= 0 {
			cfg.BastionPort = common.DefaultSSHPort
		}
		if cfg.BastionUser == "" {
			cfg.BastionUser = cfg.Username
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = common.DefaultSSHTimeout
	}
	return cfg, nil
}

// parseSigner parses cfg.PrivateKey. An encrypted key is decrypted with
// cfg.Password; an unencrypted key leaves the password free for password auth,
// which is reported by the second return value.
func parseSigner(cfg Config) (ssh.Signer, bool, error) {
	signer, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
	if err == nil {
		return signer, cfg.Password != "", nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, false, errors.Wrap(err, "the given SSH key could not be parsed")
	}
	if cfg.Password == "" {
		return nil, false, errors.Wrap(ErrInvalidConfig, "the SSH key is encrypted and no password was given")
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKey), []byte(cfg.Password))
	if err != nil {
		return nil, false, errors.Wrap(err, "the SSH key could not be decrypted with the given password")
	}
	return signer, false, nil
}

// NewConnection validates cfg and opens an authenticated connection, hopping
// through cfg.Bastion when set.
func NewConnection(ctx context.Context, cfg Config) (Connection, error) {
	cfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to validate ssh connection parameters")
	}

	conn := &connection{config: cfg}
	authMethods, err := conn.authMethods()
	if err != nil {
		conn.cleanupAgentSocket()
		return nil, err
	}
	verifyHostKey, err := hostKeyCallback(cfg)
	if err != nil {
		conn.cleanupAgentSocket()
		return nil, err
	}

	clientConfig := func(user string) *ssh.ClientConfig {
		return &ssh.ClientConfig{
			User:            user,
			Timeout:         cfg.Timeout,
			Auth:            authMethods,
			HostKeyCallback: verifyHostKey,
		}
	}

	endpoint := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	if cfg.Bastion == "" {
		client, err := dialClient(ctx, endpoint, clientConfig(cfg.Username))
		if err != nil {
			conn.cleanupAgentSocket()
			return nil, errors.Wrapf(err, "could not establish connection to %s", endpoint)
		}
		conn.client = client
		return conn, nil
	}

	bastionEndpoint := net.JoinHostPort(cfg.Bastion, strconv.Itoa(cfg.BastionPort))
	jump, err := dialClient(ctx, bastionEndpoint, clientConfig(cfg.BastionUser))
	if err != nil {
		conn.cleanupAgentSocket()
		return nil, errors.Wrapf(err, "could not establish connection to bastion %s", bastionEndpoint)
	}
	netConn, err := jump.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		_ = jump.Close()
		conn.cleanupAgentSocket()
		return nil, errors.Wrapf(err, "could not establish connection to target %s via bastion", endpoint)
	}
	client, err := handshake(ctx, netConn, endpoint, clientConfig(cfg.Username))
	if err != nil {
		_ = jump.Close()
		conn.cleanupAgentSocket()
		return nil, errors.Wrapf(err, "failed to create SSH client connection to %s via bastion", endpoint)
	}
	conn.jump = jump
	conn.client = client
	return conn, nil
}

func dialClient(ctx context.Context, endpoint string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	return handshake(ctx, netConn, endpoint, cfg)
}

// handshake runs the SSH handshake on netConn, bounded by the config timeout
// and by ctx.
func handshake(ctx context.Context, netConn net.Conn, endpoint string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	if cfg.Timeout > 0 {
		_ = netConn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = netConn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(netConn, endpoint, cfg)
	if !stop() {
		if err == nil {
			_ = c.Close()
		}
		return nil, errors.Wrap(ctx.Err(), "SSH handshake interrupted")
	}
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	_ = netConn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func (c *connection) authMethods() ([]ssh.AuthMethod, error) {
	cfg := c.config
	methods := make([]ssh.AuthMethod, 0, 3)
	usePassword := cfg.Password != ""

	if cfg.PrivateKey != "" {
		signer, passwordFree, err := parseSigner(cfg)
		if err != nil {
			return nil, err
		}
		usePassword = passwordFree
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.AgentSocket != "" {
		addr := cfg.AgentSocket
		if strings.HasPrefix(addr, socketEnvPrefix) {
			envName := strings.TrimPrefix(addr, socketEnvPrefix)
			if envAddr := os.Getenv(envName); envAddr != "" {
				addr = envAddr
			} else {
				logger.Log.Warnf("SSH agent environment variable %s not set, using %q as the socket path", envName, addr)
			}
		}
		soc, err := net.Dial("unix", addr)
		if err != nil {
			return nil, errors.Wrapf(err, "could not open SSH agent socket %q", addr)
		}
		c.agentSoc = soc
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(soc).Signers))
	}

	if usePassword {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	return methods, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsFile == "" {
		logger.Log.WithHost(cfg.Address).Debug("No known_hosts file configured, accepting any host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load known_hosts file %q", cfg.KnownHostsFile)
	}
	return cb, nil
}

func (c *connection) cleanupAgentSocket() {
	if c.agentSoc != nil {
		_ = c.agentSoc.Close()
		c.agentSoc = nil
	}
}

// Close tears down the target client, the bastion client and the agent socket.
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var closeErrors []string
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			closeErrors = append(closeErrors, "ssh close error: "+err.Error())
		}
		c.client = nil
	}
	if c.jump != nil {
		if err := c.jump.Close(); err != nil {
			closeErrors = append(closeErrors, "bastion close error: "+err.Error())
		}
		c.jump = nil
	}
	if c.agentSoc != nil {
		if err := c.agentSoc.Close(); err != nil {
			closeErrors = append(closeErrors, "agent socket close error: "+err.Error())
		}
		c.agentSoc = nil
	}
	if len(closeErrors) > 0 {
		return errors.New(strings.Join(closeErrors, "; "))
	}
	return nil
}

func (c *connection) sshClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, errors.New("ssh connection is closed or not initialized")
	}
	return c.client, nil
}

// Exec runs cmd verbatim in a new session without a PTY, so stdout and stderr
// stay separate. A non-zero remote exit status is reported through exitCode
// with a nil error; err is reserved for session and protocol failures.
func (c *connection) Exec(ctx context.Context, cmd string) (stdout []byte, stderr []byte, exitCode int, err error) {
	client, err := c.sshClient()
	if err != nil {
		return nil, nil, -1, err
	}
	sess, err := client.NewSession()
	if err != nil {
		return nil, nil, -1, errors.Wrap(err, "failed to create ssh session")
	}
	defer sess.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	sess.Stdout = &stdoutBuf
	sess.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		<-done
		return nil, nil, -1, errors.Wrap(ctx.Err(), "remote command interrupted")
	case err = <-done:
	}

	if err == nil {
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitStatus(), nil
	}
	return nil, nil, -1, errors.Wrap(err, "remote command did not complete")
}

func (c *connection) sftpClient(ctx context.Context) (*sftp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := c.sshClient()
	if err != nil {
		return nil, err
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create SFTP client")
	}
	return sc, nil
}

// Upload copies localPath to remotePath, creating parent directories, and applies mode.
func (c *connection) Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open local file %s", localPath)
	}
	defer src.Close()

	sc, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}
	defer sc.Close()

	if dir := filepath.ToSlash(filepath.Dir(remotePath)); dir != "." && dir != "/" {
		if err := sc.MkdirAll(dir); err != nil {
			return errors.Wrapf(err, "failed to create remote directory %s", dir)
		}
	}
	dst, err := sc.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return errors.Wrapf(err, "failed to create remote file %s", remotePath)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "failed to copy %s to remote %s", localPath, remotePath)
	}
	if err := sc.Chmod(remotePath, mode); err != nil {
		return errors.Wrapf(err, "failed to chmod remote file %s", remotePath)
	}
	return nil
}

// Download copies remotePath to localPath, creating local parent directories.
func (c *connection) Download(ctx context.Context, remotePath, localPath string) error {
	sc, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}
	defer sc.Close()

	src, err := sc.Open(remotePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open remote file %s", remotePath)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), common.FileMode0755); err != nil {
		return errors.Wrapf(err, "failed to create local directory for %s", localPath)
	}
	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, common.FileMode0644)
	if err != nil {
		return errors.Wrapf(err, "failed to create local file %s", localPath)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "failed to copy remote %s to %s", remotePath, localPath)
	}
	return nil
}
