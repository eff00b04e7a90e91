package control

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
	"strings"

	"ecrdeploy/internal/faults"
	"ecrdeploy/internal/logging"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SSH represents an SSH connection and provides methods for remote operations
type SSH struct {
	client       *ssh.Client
	sftpClient   *sftp.Client
	host         string
	user         string
	instanceName string
	closed       bool
}

// escapeNewlines escapes newline characters for proper log formatting
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// safeClose safely closes a resource and logs any errors
func safeClose(name string, closer func() error) {
	if err := closer(); err != nil && !errors.Is(err, io.EOF) {
		logging.Logger().Warn("failed to close resource",
			zap.String("resource", name),
			zap.Error(err))
	}
}

// Connect opens an SSH connection to config.Host, port 22 unless set. There is no
// retry: a refused or rejected connection is returned as ErrConnection.
func Connect(ctx context.Context, config Config) (*SSH, error) {
	if config.Signer == nil {
		return nil, fmt.Errorf("%w: no private key provided", faults.ErrConnection)
	}
	if config.HostKeyCallback == nil {
		return nil, fmt.Errorf("%w: no host key policy provided", faults.ErrConnection)
	}

	port := config.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(config.Host, strconv.Itoa(port))
	clientConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(config.Signer),
		},
		HostKeyCallback: config.HostKeyCallback,
		Timeout:         config.DialTimeout,
	}

	dialer := net.Dialer{Timeout: config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial %s: %w", faults.ErrConnection, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		safeClose("TCP connection", conn.Close)
		return nil, fmt.Errorf("%w: SSH handshake with %s failed: %w", faults.ErrConnection, addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		safeClose("SSH client", client.Close)
		return nil, fmt.Errorf("%w: failed to create SFTP client: %w", faults.ErrConnection, err)
	}

	logging.Logger().Info("SSH connection established",
		zap.String("user", config.User),
		zap.String("host", config.Host),
		zap.String("instance_name", config.InstanceName))

	return &SSH{
		client:       client,
		sftpClient:   sftpClient,
		host:         config.Host,
		user:         config.User,
		instanceName: config.InstanceName,
	}, nil
}

// Host returns the remote host name
func (s *SSH) Host() string {
	return s.host
}

// Close closes the SFTP and SSH connections. Closing twice is a no-op.
func (s *SSH) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.sftpClient != nil {
		safeClose("SFTP client", s.sftpClient.Close)
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Run executes a command on the remote host and waits for it to finish.
// The context is only checked before the command starts.
func (s *SSH) Run(ctx context.Context, cmd Command) (*Result, error) {
	if s.closed || s.client == nil {
		return nil, fmt.Errorf("%w: %s: session to %s is closed", faults.ErrExecution, cmd.Label(), s.host)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", faults.ErrExecution, cmd.Label(), err)
	}

	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to create session: %w", faults.ErrExecution, cmd.Label(), err)
	}
	defer safeClose("SSH session", session.Close)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != "" {
		session.Stdin = strings.NewReader(cmd.Stdin)
	}

	logging.Logger().Debug("Executing command",
		zap.String("command", logging.Truncate(cmd.Line)),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName))

	err = session.Run(cmd.Line)

	result := &Result{
		Command: cmd.Label(),
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitStatus = exitErr.ExitStatus()
	default:
		return result, fmt.Errorf("%w: %s: %w", faults.ErrExecution, cmd.Label(), err)
	}

	return result, nil
}

// WriteFile uploads data over SFTP to a staging file in /tmp and installs it
// at remotePath with sudo, so root-owned directories can be targeted.
func (s *SSH) WriteFile(remotePath string, data []byte, mode os.FileMode) error {
	if s.closed || s.sftpClient == nil {
		return fmt.Errorf("%w: write %s: session to %s is closed", faults.ErrExecution, remotePath, s.host)
	}

	staging := path.Join("/tmp", "ecrdeploy-"+uuid.NewString())
	file, err := s.sftpClient.Create(staging)
	if err != nil {
		return fmt.Errorf("%w: failed to create remote file %s: %w", faults.ErrExecution, staging, err)
	}
	if _, err := file.Write(data); err != nil {
		safeClose("remote file", file.Close)
		return fmt.Errorf("%w: failed to write remote file %s: %w", faults.ErrExecution, staging, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: failed to close remote file %s: %w", faults.ErrExecution, staging, err)
	}

	result, err := s.Run(context.Background(), InstallCommand(staging, remotePath, mode))
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("%w: installing %s exited with status %d: %s",
			faults.ErrRemoteCommand, remotePath, result.ExitStatus, strings.TrimSpace(result.Stderr))
	}

	logging.Logger().Info("File written to remote host",
		zap.String("path", remotePath),
		zap.String("host", s.host),
		zap.Int("size_bytes", len(data)))
	return nil
}

// InstallCommand moves a staged upload into place with the given mode.
func InstallCommand(staging, remotePath string, mode os.FileMode) Command {
	return Command{
		Name: "install " + remotePath,
		Line: fmt.Sprintf("sudo install -D -m %04o %s %s && rm -f %s",
			mode.Perm(), Quote(staging), Quote(remotePath), Quote(staging)),
	}
}
