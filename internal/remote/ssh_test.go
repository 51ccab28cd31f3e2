package remote

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/lucasnoah/rita/internal/logger"
)

func TestTargetAddr(t *testing.T) {
	assert.Equal(t, "example.com:22", Target{Host: "example.com"}.Addr())
	assert.Equal(t, "10.0.0.5:2222", Target{Host: "10.0.0.5", Port: 2222}.Addr())
	assert.Equal(t, "[::1]:22", Target{Host: "::1"}.Addr())
}

func TestHostKeyCallback_Pinned(t *testing.T) {
	_, pub := newKeyPEM(t, "")
	_, other := newKeyPEM(t, "")
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 22}

	cb, err := HostKeyCallback(Target{Host: "10.0.0.5", HostKey: string(ssh.MarshalAuthorizedKey(pub))}, logger.Nop())
	require.NoError(t, err)
	assert.NoError(t, cb("10.0.0.5:22", addr, pub))
	assert.Error(t, cb("10.0.0.5:22", addr, other))
}

func TestHostKeyCallback_KnownHosts(t *testing.T) {
	_, pub := newKeyPEM(t, "")
	file := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize("10.0.0.5:22")}, pub)
	require.NoError(t, os.WriteFile(file, []byte(line+"\n"), 0o600))

	cb, err := HostKeyCallback(Target{Host: "10.0.0.5", KnownHostsFile: file, HostKey: "ignored"}, logger.Nop())
	require.NoError(t, err)
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 22}
	assert.NoError(t, cb("10.0.0.5:22", addr, pub))

	_, err = HostKeyCallback(Target{KnownHostsFile: filepath.Join(t.TempDir(), "missing")}, logger.Nop())
	assert.Error(t, err)
}

func TestHostKeyCallback_BadPin(t *testing.T) {
	_, err := HostKeyCallback(Target{HostKey: "ssh-ed25519 garbage"}, logger.Nop())
	assert.Error(t, err)
}

func TestHostKeyCallback_Insecure(t *testing.T) {
	_, pub := newKeyPEM(t, "")
	cb, err := HostKeyCallback(Target{Host: "h"}, nil)
	require.NoError(t, err)
	assert.NoError(t, cb("h:22", &net.TCPAddr{}, pub))
}

func TestSSHDialer_HandshakeTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept and never speak, so the client waits on the server version line.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				<-done
				conn.Close()
			}()
		}
	}()

	key, _ := newKeyPEM(t, "")
	signer, err := ssh.ParsePrivateKey(key)
	require.NoError(t, err)

	addr := ln.Addr().(*net.TCPAddr)
	target := Target{Host: "127.0.0.1", Port: addr.Port, User: "root", Timeout: 200 * time.Millisecond}

	start := time.Now()
	_, err = (&SSHDialer{Log: logger.Nop()}).Dial(context.Background(), target, signer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh handshake")
	assert.Less(t, time.Since(start), 5*time.Second)
}
