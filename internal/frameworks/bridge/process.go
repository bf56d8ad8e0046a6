// Package bridge implements frameworks.Framework by driving a worker process
// that hosts the tensor frameworks. Requests and responses are JSON-RPC 2.0
// messages framed with Content-Length headers on the worker's stdio.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mwiater/tvmbench/internal/frameworks"
	"github.com/mwiater/tvmbench/internal/logging"
)

// ProtocolVersion is sent in the initialize handshake.
const ProtocolVersion = 1

const (
	defaultInitTimeout = 30 * time.Second
	shutdownTimeout    = 2 * time.Second
)

// ErrWorkerNotFound is returned when the worker command cannot be resolved.
var ErrWorkerNotFound = errors.New("framework worker not found")

var lookPath = exec.LookPath

// Options describes how to launch the worker.
type Options struct {
	Command     string
	Args        []string
	Env         []string
	InitTimeout time.Duration
	Stderr      io.Writer
}

// Client is a connection to one worker process. Calls are serialised.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	writer *bufio.Writer

	rpcMu  sync.Mutex
	seqMu  sync.Mutex
	seq    int64
	broken error

	info      frameworks.Info
	closeOnce sync.Once
	closeErr  error
}

// Start launches the worker and performs the initialize handshake.
func Start(ctx context.Context, opts Options) (*Client, error) {
	command := strings.TrimSpace(opts.Command)
	if command == "" {
		return nil, fmt.Errorf("%w: no worker command configured", ErrWorkerNotFound)
	}
	path, err := lookPath(command)
	if err != nil {
		logging.LogEvent("framework worker start aborted: %q not resolvable (%v)", command, err)
		return nil, fmt.Errorf("%w: %q: %v", ErrWorkerNotFound, command, err)
	}

	cmd := exec.CommandContext(ctx, path, opts.Args...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		logging.LogEvent("framework worker failed to start: %v", err)
		return nil, fmt.Errorf("start worker: %w", err)
	}

	client := newClient(stdout, stdin)
	client.cmd = cmd

	timeout := opts.InitTimeout
	if timeout <= 0 {
		timeout = defaultInitTimeout
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.initialize(initCtx); err != nil {
		logging.LogEvent("framework worker initialization failed: %v", err)
		_ = client.Close()
		return nil, err
	}

	logging.LogEvent("framework worker started: command=%s pid=%d frameworks=%v",
		path, cmd.Process.Pid, client.info.Versions)
	return client, nil
}

func newClient(r io.Reader, w io.WriteCloser) *Client {
	return &Client{
		stdin:  w,
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
	}
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocol": ProtocolVersion,
		"clientInfo": map[string]any{
			"name": "tvmbench",
		},
	}
	var info frameworks.Info
	if err := c.call(ctx, "initialize", params, "", &info); err != nil {
		return fmt.Errorf("worker initialize: %w", err)
	}
	c.info = info
	return nil
}

// Info returns what the worker reported during initialize.
func (c *Client) Info() frameworks.Info { return c.info }

// Close asks the worker to shut down, closes its stdin and kills it if it
// has not exited within two seconds.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := c.call(ctx, "shutdown", nil, "", nil); err != nil {
			logging.LogDebug("worker shutdown request: %v", err)
		}
		cancel()

		if c.stdin != nil {
			_ = c.stdin.Close()
		}
		if c.cmd == nil || c.cmd.Process == nil {
			return
		}

		done := make(chan error, 1)
		go func() {
			done <- c.cmd.Wait()
		}()
		select {
		case err := <-done:
			c.closeErr = err
		case <-time.After(shutdownTimeout):
			_ = c.cmd.Process.Kill()
			<-done
			c.closeErr = fmt.Errorf("worker did not exit within %s, killed", shutdownTimeout)
		}
	})
	return c.closeErr
}
