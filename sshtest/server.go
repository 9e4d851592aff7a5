// Package sshtest runs an in-process SSH server for tests. It executes real
// commands with /bin/sh, reports exit status, serves the sftp subsystem and
// forwards direct-tcpip channels so it can act as its own bastion.
package sshtest

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// maxStringLen bounds string payloads of incoming requests.
const maxStringLen = 1 << 16

// Server is an SSH server listening on a random localhost port.
type Server struct {
	cfg      *ssh.ServerConfig
	listener net.Listener

	user          string
	password      string
	authorizedKey ssh.PublicKey

	conns  int64
	execs  int64
	closed int32
}

// Option configures a Server.
type Option func(*Server)

// WithPassword accepts password auth for user.
func WithPassword(user, password string) Option {
	return func(s *Server) {
		s.user = user
		s.password = password
	}
}

// WithAuthorizedKey accepts public key auth with pub for any user.
func WithAuthorizedKey(pub *rsa.PublicKey) Option {
	return func(s *Server) {
		key, err := ssh.NewPublicKey(pub)
		if err != nil {
			panic(fmt.Sprintf("invalid authorized key: %v", err))
		}
		s.authorizedKey = key
	}
}

// NewServer starts a server presenting hostKey.
func NewServer(hostKey *rsa.PrivateKey, opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}

	cfg := &ssh.ServerConfig{}
	if s.password != "" {
		cfg.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == s.user && subtle.ConstantTimeCompare(pass, []byte(s.password)) == 1 {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		}
	}
	if s.authorizedKey != nil {
		cfg.PublicKeyCallback = func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			if subtle.ConstantTimeCompare(pubKey.Marshal(), s.authorizedKey.Marshal()) == 1 {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		}
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate host signer")
	}
	cfg.AddHostKey(signer)
	s.cfg = cfg

	ls, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s.listener = ls

	go func() {
		for {
			conn, err := ls.Accept()
			if err != nil {
				return
			}
			atomic.AddInt64(&s.conns, 1)
			go func() {
				if err := s.handleConn(conn); err != nil && atomic.LoadInt32(&s.closed) == 0 {
					log.Print("Got error while handling connection: ", err)
				}
			}()
		}
	}()
	return s, nil
}

// Close stops accepting connections.
func (s *Server) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return s.listener.Close()
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening IP.
func (s *Server) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Conns returns how many TCP connections have been accepted.
func (s *Server) Conns() int64 {
	return atomic.LoadInt64(&s.conns)
}

// Execs returns how many exec requests have been started.
func (s *Server) Execs() int64 {
	return atomic.LoadInt64(&s.execs)
}

func (s *Server) handleConn(conn net.Conn) error {
	sConn, chans, reqs, err := ssh.NewServerConn(conn, s.cfg)
	if err != nil {
		return errors.Wrap(err, "failed to handshake")
	}
	defer sConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			ch, chReqs, err := newChan.Accept()
			if err != nil {
				return errors.Wrap(err, "failed to accept channel")
			}
			go s.handleSession(ch, chReqs)
		case "direct-tcpip":
			go handleDirectTCPIP(newChan)
		default:
			newChan.Reject(ssh.UnknownChannelType, fmt.Sprintf("%q unsupported", newChan.ChannelType()))
		}
	}
	return nil
}

// handleSession services "exec" and the "sftp" subsystem. Other requests are refused.
func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "exec":
			cmd, err := readStringPayload(req.Payload)
			if err != nil {
				log.Print("Failed to read command: ", err)
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			atomic.AddInt64(&s.execs, 1)
			runCommand(ch, reqs, cmd)
			return
		case "subsystem":
			name, err := readStringPayload(req.Payload)
			if err != nil || name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)
			server, err := sftp.NewServer(ch)
			if err != nil {
				log.Print("Failed to start sftp server: ", err)
				return
			}
			if err := server.Serve(); err != nil && err != io.EOF {
				log.Print("sftp server stopped: ", err)
			}
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runCommand runs cmd with /bin/sh and sends its exit status. The process is
// killed when the client closes the channel first.
func runCommand(ch ssh.Channel, reqs <-chan *ssh.Request, command string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
		cancel()
	}()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()
	cmd.WaitDelay = time.Second
	status := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			status = exitErr.ExitCode()
		} else {
			status = 127
		}
	}
	ch.CloseWrite()
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
}

// handleDirectTCPIP forwards a direct-tcpip channel (RFC 4254 7.2) to its target.
func handleDirectTCPIP(newChan ssh.NewChannel) {
	var m struct {
		Host       string
		Port       uint32
		OriginHost string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(newChan.ExtraData(), &m); err != nil {
		newChan.Reject(ssh.ConnectionFailed, "malformed direct-tcpip request")
		return
	}
	target, err := net.Dial("tcp", net.JoinHostPort(m.Host, strconv.Itoa(int(m.Port))))
	if err != nil {
		newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	ch, reqs, err := newChan.Accept()
	if err != nil {
		target.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(ch, target)
		ch.CloseWrite()
		done <- struct{}{}
	}()
	go func() {
		io.Copy(target, ch)
		if tc, ok := target.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		done <- struct{}{}
	}()
	<-done
	<-done
	ch.Close()
	target.Close()
}

// readStringPayload reads a length-prefixed string from a request payload.
func readStringPayload(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", errors.New("payload too short")
	}
	slen := binary.BigEndian.Uint32(payload)
	if slen > maxStringLen {
		return "", errors.Errorf("string length %v too big", slen)
	}
	if int(slen) > len(payload)-4 {
		return "", errors.Errorf("payload truncated: want %d bytes", slen)
	}
	return string(payload[4 : 4+slen]), nil
}
