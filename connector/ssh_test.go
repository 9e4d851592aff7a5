package connector

import (
	"context"
	"crypto/rsa"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh/agent"

	"github.com/mensylisir/xmexec/common"
	"github.com/mensylisir/xmexec/sshtest"
)

const (
	testUser     = "tester"
	testPassword = "s3cret"
)

var (
	keysOnce sync.Once
	userKey  *rsa.PrivateKey
	hostKey  *rsa.PrivateKey
	keysErr  error
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		userKey, hostKey, keysErr = sshtest.GenerateKeys(2048)
	})
	require.NoError(t, keysErr)
	return userKey, hostKey
}

func startServer(t *testing.T) *sshtest.Server {
	t.Helper()
	uk, hk := testKeys(t)
	srv, err := sshtest.NewServer(hk,
		sshtest.WithPassword(testUser, testPassword),
		sshtest.WithAuthorizedKey(&uk.PublicKey))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func passwordConfig(srv *sshtest.Server) Config {
	return Config{
		Username: testUser,
		Password: testPassword,
		Address:  srv.Host(),
		Port:     srv.Port(),
		Timeout:  5 * time.Second,
	}
}

func dial(t *testing.T, cfg Config) Connection {
	t.Helper()
	conn, err := NewConnection(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestValidateConfig(t *testing.T) {
	uk, _ := testKeys(t)
	dir := t.TempDir()
	plainKey, err := sshtest.WriteKey(dir, "plain", uk, "")
	require.NoError(t, err)
	encryptedKey, err := sshtest.WriteKey(dir, "encrypted", uk, "passphrase")
	require.NoError(t, err)
	garbageKey := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbageKey, []byte("not a key"), 0600))

	tests := []struct {
		name       string
		cfg        Config
		errIs      error
		expectErr  bool
		checkValid func(t *testing.T, cfg Config)
	}{
		{
			name:  "missing username",
			cfg:   Config{Address: "10.0.0.1", Password: "p"},
			errIs: ErrInvalidConfig,
		},
		{
			name:  "blank address",
			cfg:   Config{Username: "root", Address: "  ", Password: "p"},
			errIs: ErrInvalidConfig,
		},
		{
			name:  "no authentication",
			cfg:   Config{Username: "root", Address: "10.0.0.1"},
			errIs: ErrInvalidConfig,
		},
		{
			name:  "key file does not exist",
			cfg:   Config{Username: "root", Address: "10.0.0.1", KeyFile: filepath.Join(dir, "missing")},
			errIs: os.ErrNotExist,
		},
		{
			name:      "key file is not a key",
			cfg:       Config{Username: "root", Address: "10.0.0.1", KeyFile: garbageKey},
			expectErr: true,
		},
		{
			name:  "encrypted key without password",
			cfg:   Config{Username: "root", Address: "10.0.0.1", KeyFile: encryptedKey},
			errIs: ErrInvalidConfig,
		},
		{
			name:      "encrypted key with wrong password",
			cfg:       Config{Username: "root", Address: "10.0.0.1", KeyFile: encryptedKey, Password: "wrong"},
			expectErr: true,
		},
		{
			name: "defaults filled in",
			cfg:  Config{Username: "root", Address: "10.0.0.1", Password: "p", Bastion: "10.0.0.254"},
			checkValid: func(t *testing.T, cfg Config) {
				assert.Equal(t, common.DefaultSSHPort, cfg.Port)
				assert.Equal(t, common.DefaultSSHTimeout, cfg.Timeout)
				assert.Equal(t, common.DefaultSSHPort, cfg.BastionPort)
				assert.Equal(t, "root", cfg.BastionUser)
			},
		},
		{
			name: "key file content is loaded",
			cfg:  Config{Username: "root", Address: "10.0.0.1", Port: 2222, KeyFile: plainKey},
			checkValid: func(t *testing.T, cfg Config) {
				assert.Equal(t, 2222, cfg.Port)
				assert.Contains(t, cfg.PrivateKey, "PRIVATE KEY")
			},
		},
		{
			name: "encrypted key with correct password",
			cfg:  Config{Username: "root", Address: "10.0.0.1", KeyFile: encryptedKey, Password: "passphrase"},
			checkValid: func(t *testing.T, cfg Config) {
				assert.NotEmpty(t, cfg.PrivateKey)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateConfig(tt.cfg)
			switch {
			case tt.errIs != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.errIs), "error %v should wrap %v", err, tt.errIs)
			case tt.expectErr:
				require.Error(t, err)
			default:
				require.NoError(t, err)
				tt.checkValid(t, got)
			}
		})
	}
}

func TestNewConnection_PasswordAuth(t *testing.T) {
	srv := startServer(t)
	conn := dial(t, passwordConfig(srv))

	stdout, stderr, code, err := conn.Exec(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(stdout))
	assert.Empty(t, stderr)
	assert.Equal(t, 0, code)
}

func TestNewConnection_WrongPassword(t *testing.T) {
	srv := startServer(t)
	cfg := passwordConfig(srv)
	cfg.Password = "nope"

	_, err := NewConnection(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewConnection_PrivateKeyAuth(t *testing.T) {
	srv := startServer(t)
	uk, _ := testKeys(t)
	dir := t.TempDir()

	t.Run("plain key file", func(t *testing.T) {
		keyFile, err := sshtest.WriteKey(dir, "plain", uk, "")
		require.NoError(t, err)
		conn := dial(t, Config{Username: testUser, Address: srv.Host(), Port: srv.Port(), KeyFile: keyFile})
		stdout, _, code, err := conn.Exec(context.Background(), "echo key")
		require.NoError(t, err)
		assert.Equal(t, "key\n", string(stdout))
		assert.Equal(t, 0, code)
	})

	t.Run("encrypted key file with passphrase", func(t *testing.T) {
		keyFile, err := sshtest.WriteKey(dir, "encrypted", uk, "passphrase")
		require.NoError(t, err)
		conn := dial(t, Config{Username: testUser, Address: srv.Host(), Port: srv.Port(), KeyFile: keyFile, Password: "passphrase"})
		stdout, _, _, err := conn.Exec(context.Background(), "echo encrypted")
		require.NoError(t, err)
		assert.Equal(t, "encrypted\n", string(stdout))
	})

	t.Run("unrecognised key falls back to password", func(t *testing.T) {
		other, _, err := sshtest.GenerateKeys(2048)
		require.NoError(t, err)
		keyFile, err := sshtest.WriteKey(dir, "other", other, "")
		require.NoError(t, err)
		conn := dial(t, Config{Username: testUser, Address: srv.Host(), Port: srv.Port(), KeyFile: keyFile, Password: testPassword})
		_, _, code, err := conn.Exec(context.Background(), "true")
		require.NoError(t, err)
		assert.Equal(t, 0, code)
	})
}

func TestNewConnection_AgentAuth(t *testing.T) {
	srv := startServer(t)
	uk, _ := testKeys(t)

	keyring := agent.NewKeyring()
	require.NoError(t, keyring.Add(agent.AddedKey{PrivateKey: uk}))

	// Unix socket paths are length limited, so avoid the long t.TempDir name.
	sockDir, err := os.MkdirTemp("", "xmagent")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })
	sock := filepath.Join(sockDir, "agent.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				agent.ServeAgent(keyring, c)
			}()
		}
	}()

	t.Run("socket path", func(t *testing.T) {
		conn := dial(t, Config{Username: testUser, Address: srv.Host(), Port: srv.Port(), AgentSocket: sock})
		stdout, _, _, err := conn.Exec(context.Background(), "echo agent")
		require.NoError(t, err)
		assert.Equal(t, "agent\n", string(stdout))
	})

	t.Run("env prefix", func(t *testing.T) {
		t.Setenv("XMEXEC_TEST_AUTH_SOCK", sock)
		conn := dial(t, Config{Username: testUser, Address: srv.Host(), Port: srv.Port(), AgentSocket: "env:XMEXEC_TEST_AUTH_SOCK"})
		_, _, code, err := conn.Exec(context.Background(), "true")
		require.NoError(t, err)
		assert.Equal(t, 0, code)
	})
}

func TestNewConnection_Bastion(t *testing.T) {
	srv := startServer(t)
	cfg := passwordConfig(srv)
	cfg.Bastion = srv.Host()
	cfg.BastionPort = srv.Port()

	before := srv.Conns()
	conn := dial(t, cfg)
	stdout, _, code, err := conn.Exec(context.Background(), "echo through-bastion")
	require.NoError(t, err)
	assert.Equal(t, "through-bastion\n", string(stdout))
	assert.Equal(t, 0, code)
	assert.Equal(t, before+2, srv.Conns(), "bastion and target should each see one connection")
}

func TestNewConnection_KnownHosts(t *testing.T) {
	srv := startServer(t)
	_, hk := testKeys(t)

	t.Run("trusted host key", func(t *testing.T) {
		knownHosts, err := sshtest.WriteKnownHosts(t.TempDir(), srv.Addr(), hk)
		require.NoError(t, err)
		cfg := passwordConfig(srv)
		cfg.KnownHostsFile = knownHosts
		dial(t, cfg)
	})

	t.Run("mismatched host key", func(t *testing.T) {
		_, otherHost, err := sshtest.GenerateKeys(2048)
		require.NoError(t, err)
		knownHosts, err := sshtest.WriteKnownHosts(t.TempDir(), srv.Addr(), otherHost)
		require.NoError(t, err)
		cfg := passwordConfig(srv)
		cfg.KnownHostsFile = knownHosts
		_, err = NewConnection(context.Background(), cfg)
		require.Error(t, err)
	})

	t.Run("missing known_hosts file", func(t *testing.T) {
		cfg := passwordConfig(srv)
		cfg.KnownHostsFile = filepath.Join(t.TempDir(), "absent")
		_, err := NewConnection(context.Background(), cfg)
		require.Error(t, err)
	})
}

func TestNewConnection_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	_, err = NewConnection(context.Background(), Config{
		Username: testUser,
		Password: testPassword,
		Address:  addr.IP.String(),
		Port:     addr.Port,
		Timeout:  2 * time.Second,
	})
	require.Error(t, err)
}

func TestNewConnection_HandshakeCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		// Accept and stay silent so the handshake never progresses.
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = NewConnection(ctx, Config{
		Username: testUser,
		Password: testPassword,
		Address:  addr.IP.String(),
		Port:     addr.Port,
		Timeout:  30 * time.Second,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "unexpected error: %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExec(t *testing.T) {
	srv := startServer(t)
	conn := dial(t, passwordConfig(srv))

	tests := []struct {
		name           string
		cmd            string
		expectedStdout string
		expectedStderr string
		expectedCode   int
	}{
		{name: "no output", cmd: "true"},
		{name: "stdout only", cmd: "printf 'a\\nb\\n'", expectedStdout: "a\nb\n"},
		{name: "stderr stays separate", cmd: "echo out; echo err 1>&2", expectedStdout: "out\n", expectedStderr: "err\n"},
		{name: "non-zero exit", cmd: "echo partial; exit 3", expectedStdout: "partial\n", expectedCode: 3},
		{name: "command not found", cmd: "definitely-not-a-command-xm", expectedCode: 127},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, code, err := conn.Exec(context.Background(), tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStdout, string(stdout))
			if tt.expectedCode == 127 {
				assert.NotEmpty(t, stderr)
			} else {
				assert.Equal(t, tt.expectedStderr, string(stderr))
			}
			assert.Equal(t, tt.expectedCode, code)
		})
	}
}

func TestExec_ContextCancelled(t *testing.T) {
	srv := startServer(t)
	conn := dial(t, passwordConfig(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	stdout, stderr, code, err := conn.Exec(ctx, "sleep 10")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Nil(t, stdout)
	assert.Nil(t, stderr)
	assert.Equal(t, -1, code)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConnection_Close(t *testing.T) {
	srv := startServer(t)
	conn, err := NewConnection(context.Background(), passwordConfig(srv))
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "closing twice should be a no-op")

	_, _, code, err := conn.Exec(context.Background(), "true")
	require.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestUploadDownload(t *testing.T) {
	srv := startServer(t)
	conn := dial(t, passwordConfig(srv))

	local := t.TempDir()
	remote := t.TempDir()
	src := filepath.Join(local, "payload.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload\n"), 0644))

	remotePath := filepath.Join(remote, "nested", "dir", "payload.txt")
	require.NoError(t, conn.Upload(context.Background(), src, remotePath, 0640))

	info, err := os.Stat(remotePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	dst := filepath.Join(local, "back", "payload.txt")
	require.NoError(t, conn.Download(context.Background(), remotePath, dst))
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload\n", string(content))

	t.Run("missing local file", func(t *testing.T) {
		err := conn.Upload(context.Background(), filepath.Join(local, "absent"), remotePath, 0644)
		require.Error(t, err)
	})

	t.Run("missing remote file", func(t *testing.T) {
		err := conn.Download(context.Background(), filepath.Join(remote, "absent"), dst)
		require.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := conn.Download(ctx, remotePath, dst)
		require.Error(t, err)
	})
}
