package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/lucasnoah/rita/internal/command"
	"github.com/lucasnoah/rita/internal/logger"
)

// Target identifies the remote host and how to trust it.
type Target struct {
	Host string
	Port int
	User string
	// KnownHostsFile, when set, is the only source of trusted host keys.
	KnownHostsFile string
	// HostKey pins a single key in authorized_keys format.
	HostKey string
	Timeout time.Duration
}

// Addr returns host:port.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Session is an authenticated connection able to move files and run commands.
type Session interface {
	// Upload copies a local file to remotePath, replacing any existing file.
	Upload(ctx context.Context, localPath, remotePath string) (int64, error)
	// WriteFile creates or truncates remotePath with data.
	WriteFile(ctx context.Context, remotePath string, data []byte) error
	// Exec runs a shell command. A non-zero exit is reported in the result,
	// not as an error.
	Exec(ctx context.Context, cmd string) (*command.Result, error)
	Close() error
}

// Dialer opens Sessions.
type Dialer interface {
	Dial(ctx context.Context, t Target, signer ssh.Signer) (Session, error)
}

// SSHDialer dials real hosts over SSH and opens an SFTP subsystem.
type SSHDialer struct {
	Log *logger.Logger
}

// HostKeyCallback picks known_hosts, then a pinned key, then accepts any
// key with a warning.
func HostKeyCallback(t Target, log *logger.Logger) (ssh.HostKeyCallback, error) {
	switch {
	case t.KnownHostsFile != "":
		cb, err := knownhosts.New(t.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", t.KnownHostsFile, err)
		}
		return cb, nil
	case t.HostKey != "":
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(t.HostKey))
		if err != nil {
			return nil, fmt.Errorf("parse pinned host key: %w", err)
		}
		return ssh.FixedHostKey(pub), nil
	}
	if log != nil {
		log.Warn("host key verification disabled; set remote.known_hosts or remote.host_key",
			logger.Fields("host", t.Host))
	}
	return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // opt-in by leaving both unset
}

// Dial connects and authenticates with signer.
func (d *SSHDialer) Dial(ctx context.Context, t Target, signer ssh.Signer) (Session, error) {
	hostKey, err := HostKeyCallback(t, d.Log)
	if err != nil {
		return nil, err
	}
	timeout := t.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	addr := t.Addr()
	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	// ClientConfig.Timeout only covers ssh.Dial; bound the handshake here.
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}
	client := ssh.NewClient(c, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	return &sshSession{client: client, sftp: sc}, nil
}

type sshSession struct {
	client *ssh.Client
	sftp   *sftp.Client
	closed bool
}

func (s *sshSession) create(remotePath string) (*sftp.File, error) {
	if err := s.sftp.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", path.Dir(remotePath), err)
	}
	f, err := s.sftp.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", remotePath, err)
	}
	return f, nil
}

func (s *sshSession) Upload(_ context.Context, localPath, remotePath string) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := s.create(remotePath)
	if err != nil {
		return 0, err
	}
	n, err := dst.ReadFrom(src)
	if err != nil {
		dst.Close()
		return n, fmt.Errorf("copy to %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", remotePath, err)
	}
	return n, nil
}

func (s *sshSession) WriteFile(_ context.Context, remotePath string, data []byte) error {
	dst, err := s.create(remotePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, bytes.NewReader(data)); err != nil {
		dst.Close()
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	return dst.Close()
}

func (s *sshSession) Exec(ctx context.Context, cmd string) (*command.Result, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new ssh session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.Close()
		case <-done:
		}
	}()

	start := time.Now()
	err = sess.Run(cmd)
	res := &command.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		res.ExitCode = -1
		return res, fmt.Errorf("run %q: %w", cmd, err)
	}
	return res, nil
}

// Close closes SFTP then SSH. Later calls are no-ops.
func (s *sshSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	sftpErr := s.sftp.Close()
	sshErr := s.client.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}
