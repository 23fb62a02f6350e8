package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

const (
	// DefaultSocket is the qemu:///system control socket.
	DefaultSocket = "/var/run/libvirt/libvirt-sock"

	// DefaultTimeout bounds dialing the socket.
	DefaultTimeout = 5 * time.Second
)

// Options selects the libvirt endpoint.
type Options struct {
	// Socket is the unix socket path. Empty means DefaultSocket.
	Socket string
	// Timeout bounds the dial. Zero means DefaultTimeout.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Socket == "" {
		o.Socket = DefaultSocket
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Client wraps one go-libvirt connection.
type Client struct {
	libvirt *libvirt.Libvirt
}

// Connect dials the local libvirt daemon. The returned Client must be closed.
func Connect(opts Options) (*Client, error) {
	opts = opts.withDefaults()

	dialer := dialers.NewLocal(
		dialers.WithSocket(opts.Socket),
		dialers.WithLocalTimeout(opts.Timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", opts.Socket, err)
	}

	return &Client{libvirt: l}, nil
}

// ConnectWithContext is Connect bounded by ctx. A connection that completes
// after ctx is done is closed in the background.
func ConnectWithContext(ctx context.Context, opts Options) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("connection cancelled: %w", err)
	}

	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := Connect(opts)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close disconnects. It is safe to call on a nil or closed Client.
func (c *Client) Close() error {
	if c == nil || c.libvirt == nil {
		return nil
	}

	l := c.libvirt
	c.libvirt = nil
	if err := l.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}

	return nil
}

// Libvirt returns the underlying go-libvirt client.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Ping verifies the connection is alive.
func (c *Client) Ping() error {
	if c.libvirt == nil {
		return fmt.Errorf("client not connected")
	}

	if _, err := c.libvirt.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("libvirt connection is dead: %w", err)
	}

	return nil
}

// HostInfo describes the connected hypervisor.
type HostInfo struct {
	Version  string
	Hostname string
	URI      string
}

// Info reports the libvirt version, hostname and connection URI.
func (c *Client) Info() (*HostInfo, error) {
	version, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt version: %w", err)
	}
	hostname, err := c.libvirt.ConnectGetHostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	uri, err := c.libvirt.ConnectGetUri()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection URI: %w", err)
	}

	return &HostInfo{
		Version:  FormatVersion(version),
		Hostname: hostname,
		URI:      uri,
	}, nil
}

// FormatVersion renders libvirt's packed version number (8006000 → 8.6.0).
func FormatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v%1000000)/1000, v%1000)
}
