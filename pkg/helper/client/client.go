// Package client is the agent-side caller for a promised-helper
// subprocess: it uploads the helper binary over a Transport, starts
// it, and exchanges commands with it over the pkg/helper/protocol
// wire format.
package client

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/promised/agent/pkg/helper/protocol"
)

// Transport uploads and runs the helper binary on a remote host.
// pkg/transport/ssh provides the concrete implementation used in
// production; tests can substitute an in-process fake.
type Transport interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Execute(ctx context.Context, remotePath string) (stdin io.WriteCloser, stdout io.ReadCloser, err error)
	Cleanup(ctx context.Context, remotePath string) error
}

// Config configures a Client's startup.
type Config struct {
	Transport      Transport
	HelperPath     string // local path to the promised-helper binary
	RemotePath     string // path on the remote host
	StartupTimeout time.Duration
}

func (cfg *Config) setDefaults() {
	if cfg.RemotePath == "" {
		cfg.RemotePath = "/tmp/promised-helper"
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 10 * time.Second
	}
}

// Client manages one running promised-helper instance.
type Client struct {
	transport Transport
	encoder   *protocol.Encoder
	decoder   *protocol.Decoder
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	ready     *protocol.ReadyMessage
	mu        sync.Mutex
	closed    bool
}

// NewClient validates cfg and returns a Client ready for Start.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("client: transport is required")
	}
	if cfg.HelperPath == "" {
		return nil, fmt.Errorf("client: helper path is required")
	}
	cfg.setDefaults()
	return &Client{transport: cfg.Transport}, nil
}

// Start uploads the helper binary and waits for its READY message.
func (c *Client) Start(ctx context.Context, cfg *Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client: closed")
	}
	cfg.setDefaults()

	if err := c.transport.Upload(ctx, cfg.HelperPath, cfg.RemotePath); err != nil {
		return fmt.Errorf("client: uploading helper: %w", err)
	}
	stdin, stdout, err := c.transport.Execute(ctx, cfg.RemotePath)
	if err != nil {
		return fmt.Errorf("client: starting helper: %w", err)
	}
	c.stdin, c.stdout = stdin, stdout
	c.encoder = protocol.NewEncoder(stdin)
	c.decoder = protocol.NewDecoder(stdout)

	readyCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()

	readyCh := make(chan *protocol.ReadyMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		msg, err := c.decoder.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != protocol.MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready protocol.ReadyMessage
		if err := protocol.ParseParams(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-readyCtx.Done():
		return fmt.Errorf("client: timeout waiting for READY")
	case err := <-errCh:
		return fmt.Errorf("client: receiving READY: %w", err)
	case ready := <-readyCh:
		c.ready = ready
		return nil
	}
}

// Execute sends cmd and blocks until the helper reports DONE, relaying
// any EVENT messages to eventCh if it is non-nil.
func (c *Client) Execute(ctx context.Context, cmd *protocol.CommandMessage, eventCh chan<- *protocol.EventMessage) (*protocol.DoneMessage, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("client: closed")
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("client: invalid command: %w", err)
	}
	if err := c.encoder.Encode(protocol.MessageTypeCommand, cmd); err != nil {
		return nil, fmt.Errorf("client: sending command: %w", err)
	}

	for {
		msg, err := c.decoder.Decode()
		if err != nil {
			return nil, fmt.Errorf("client: reading response: %w", err)
		}
		switch msg.Type {
		case protocol.MessageTypeEvent:
			var event protocol.EventMessage
			if err := protocol.ParseParams(msg.Data, &event); err != nil {
				return nil, fmt.Errorf("client: parsing event: %w", err)
			}
			if eventCh != nil {
				eventCh <- &event
			}

		case protocol.MessageTypeDone:
			var done protocol.DoneMessage
			if err := protocol.ParseParams(msg.Data, &done); err != nil {
				return nil, fmt.Errorf("client: parsing done: %w", err)
			}
			if done.CommandID != cmd.ID {
				return nil, fmt.Errorf("client: command id mismatch: expected %s, got %s", cmd.ID, done.CommandID)
			}
			return &done, nil

		case protocol.MessageTypeError:
			var errMsg protocol.ErrorMessage
			if err := protocol.ParseParams(msg.Data, &errMsg); err != nil {
				return nil, fmt.Errorf("client: parsing error: %w", err)
			}
			if errMsg.CommandID != "" && errMsg.CommandID != cmd.ID {
				return nil, fmt.Errorf("client: command id mismatch: expected %s, got %s", cmd.ID, errMsg.CommandID)
			}
			return nil, fmt.Errorf("client: command failed: %s - %s", errMsg.Code, errMsg.Message)

		case protocol.MessageTypeExit:
			return nil, fmt.Errorf("client: helper exited unexpectedly")

		default:
			return nil, fmt.Errorf("client: unexpected message type: %s", msg.Type)
		}
	}
}

// Ready returns the READY message received at startup.
func (c *Client) Ready() *protocol.ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Close shuts down the helper process and removes its binary from the
// remote host unless it already self-deleted.
func (c *Client) Close(ctx context.Context, remotePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.stdin != nil {
		if err := c.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing stdin: %w", err))
		}
	}
	if c.stdout != nil {
		if err := c.stdout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing stdout: %w", err))
		}
	}
	if remotePath != "" {
		_ = c.transport.Cleanup(ctx, remotePath)
	}
	if len(errs) > 0 {
		return fmt.Errorf("client: closing: %v", errs)
	}
	return nil
}
