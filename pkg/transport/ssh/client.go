package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// TransportError reports a failed SSH operation along with whether a
// caller should retry it.
type TransportError struct {
	Op          string
	Err         error
	IsTemporary bool
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Temporary() bool { return e.IsTemporary }

// Client is a connected SSH session to one managed host. It satisfies
// pkg/helper/client.Transport (Upload/Execute/Cleanup) so the agent's
// helper client can drive a promised-helper subprocess over it, and it
// exposes ExecuteCommand directly for promise actuators that only need
// a one-off remote command.
type Client struct {
	config *Config

	mu          sync.RWMutex
	conn        *ssh.Client
	isConnected bool
	connectedAt time.Time
}

// NewClient validates config and returns an unconnected Client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("ssh: invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect dials the remote host, reusing the existing connection if
// it is still alive.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isConnected && c.conn != nil {
		if err := c.healthCheckLocked(); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("ssh: existing connection is dead, reconnecting")
		_ = c.conn.Close()
	}

	clientConfig, err := c.config.ClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	type result struct {
		conn *ssh.Client
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		conn, err := ssh.Dial("tcp", c.config.Address(), clientConfig)
		resCh <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case res := <-resCh:
		if res.err != nil {
			return &TransportError{Op: "connect", Err: res.err, IsTemporary: true}
		}
		c.conn = res.conn
		c.isConnected = true
		c.connectedAt = time.Now()
		log.Info().Str("host", c.config.Address()).Msg("ssh: connection established")
		return nil
	}
}

// Disconnect closes the underlying connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isConnected || c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.isConnected = false
	return err
}

// HealthCheck verifies the connection still accepts new sessions.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthCheckLocked()
}

func (c *Client) healthCheckLocked() error {
	if !c.isConnected || c.conn == nil {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}
	session, err := c.conn.NewSession()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()
	if err := session.Run("true"); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

func (c *Client) session() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isConnected || c.conn == nil {
		return nil, &TransportError{Op: "session", Err: fmt.Errorf("not connected")}
	}
	return c.conn, nil
}

// ExecuteCommand runs cmd on the remote host and returns its trimmed
// stdout/stderr.
func (c *Client) ExecuteCommand(ctx context.Context, cmd string) (stdout, stderr string, err error) {
	return c.run(ctx, cmd, false, "")
}

// ExecuteCommandWithSudo runs cmd escalated with sudo, optionally
// feeding sudoPassword through stdin (empty for NOPASSWD sudo).
func (c *Client) ExecuteCommandWithSudo(ctx context.Context, cmd, sudoPassword string) (stdout, stderr string, err error) {
	return c.run(ctx, cmd, true, sudoPassword)
}

func (c *Client) run(ctx context.Context, cmd string, useSudo bool, sudoPassword string) (stdout, stderr string, err error) {
	conn, err := c.session()
	if err != nil {
		return "", "", err
	}
	session, err := conn.NewSession()
	if err != nil {
		return "", "", &TransportError{Op: "execute", Err: err, IsTemporary: true}
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	final := cmd
	if useSudo {
		if sudoPassword != "" {
			final = fmt.Sprintf("echo '%s' | sudo -S %s", sudoPassword, cmd)
		} else {
			final = fmt.Sprintf("sudo %s", cmd)
		}
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(final) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return "", "", &TransportError{Op: "execute", Err: ctx.Err(), IsTemporary: true}
	case runErr := <-done:
		stdout = strings.TrimSpace(outBuf.String())
		stderr = strings.TrimSpace(errBuf.String())
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				return stdout, stderr, &TransportError{
					Op:  "execute",
					Err: fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr),
				}
			}
			return stdout, stderr, &TransportError{Op: "execute", Err: runErr, IsTemporary: true}
		}
		return stdout, stderr, nil
	}
}

// Upload streams localPath's content to remotePath and marks it
// executable, using a plain "cat > file" session rather than SFTP —
// the only file transfer this transport needs is pushing the
// promised-helper binary itself.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	conn, err := c.session()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(localPath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("reading local file: %w", err)}
	}

	session, err := conn.NewSession()
	if err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(content)
	cmd := fmt.Sprintf("mkdir -p $(dirname %s) && cat > %s && chmod +x %s", remotePath, remotePath, remotePath)
	if err := session.Run(cmd); err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	return nil
}

// Cleanup removes remotePath, tolerating it already being gone (a
// self-deleting helper removes itself on exit).
func (c *Client) Cleanup(ctx context.Context, remotePath string) error {
	_, _, err := c.ExecuteCommand(ctx, fmt.Sprintf("rm -f %s", remotePath))
	return err
}

// Execute starts remotePath as a subprocess and returns pipes to its
// stdin/stdout, the shape pkg/helper/client.Client needs to speak the
// helper protocol over this connection.
func (c *Client) Execute(ctx context.Context, remotePath string) (io.WriteCloser, io.ReadCloser, error) {
	conn, err := c.session()
	if err != nil {
		return nil, nil, err
	}
	session, err := conn.NewSession()
	if err != nil {
		return nil, nil, &TransportError{Op: "execute-helper", Err: err, IsTemporary: true}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, &TransportError{Op: "execute-helper", Err: err, IsTemporary: true}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, &TransportError{Op: "execute-helper", Err: err, IsTemporary: true}
	}

	if err := session.Start(remotePath); err != nil {
		session.Close()
		return nil, nil, &TransportError{Op: "execute-helper", Err: err, IsTemporary: true}
	}

	return stdin, &sessionStdout{Reader: stdout, session: session}, nil
}

// sessionStdout adapts an ssh.Session's stdout pipe (io.Reader) into
// an io.ReadCloser that closes the owning session.
type sessionStdout struct {
	io.Reader
	session *ssh.Session
}

func (s *sessionStdout) Close() error {
	return s.session.Close()
}
