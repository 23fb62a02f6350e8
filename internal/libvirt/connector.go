package libvirt

import (
	"context"
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/errdefs"
)

// conn is the part of *Client the connector depends on.
type conn interface {
	Libvirt() *libvirt.Libvirt
	Close() error
}

// Connector gives scoped access to the hypervisor. Each Do call opens its
// own connection and closes it before returning; nothing is pooled.
type Connector struct {
	opts Options
	log  *zap.Logger
	dial func(ctx context.Context, opts Options) (conn, error)
}

// NewConnector returns a Connector for the endpoint in opts.
func NewConnector(opts Options, log *zap.Logger) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{
		opts: opts.withDefaults(),
		log:  log,
		dial: func(ctx context.Context, opts Options) (conn, error) {
			return ConnectWithContext(ctx, opts)
		},
	}
}

// Do opens a connection, runs fn and closes the connection on every exit
// path. Dial failures are reported as hypervisor errors.
func (c *Connector) Do(ctx context.Context, fn func(l *libvirt.Libvirt) error) error {
	cl, err := c.dial(ctx, c.opts)
	if err != nil {
		return errdefs.Hypervisor(err, "failed to open hypervisor connection")
	}
	defer func() {
		if err := cl.Close(); err != nil {
			c.log.Warn("failed to close libvirt connection", zap.String("socket", c.opts.Socket), zap.Error(err))
		}
	}()

	return fn(cl.Libvirt())
}

// Info reports details about the connected hypervisor.
func (c *Connector) Info(ctx context.Context) (*HostInfo, error) {
	var info *HostInfo
	err := c.Do(ctx, func(l *libvirt.Libvirt) error {
		var err error
		info, err = (&Client{libvirt: l}).Info()
		return err
	})
	return info, err
}

// DomainLookuper is satisfied by *libvirt.Libvirt.
type DomainLookuper interface {
	DomainLookupByUUID(UUID libvirt.UUID) (libvirt.Domain, error)
}

// LookupDomain finds a domain by its instance uuid. A missing domain is
// reported as errdefs.ErrNotFound; any other failure as a hypervisor error.
func LookupDomain(l DomainLookuper, instanceUUID string) (libvirt.Domain, error) {
	id, err := ParseUUID(instanceUUID)
	if err != nil {
		return libvirt.Domain{}, err
	}
	dom, err := l.DomainLookupByUUID(id)
	if err != nil {
		if IsDomainNotFound(err) {
			return libvirt.Domain{}, errdefs.NotFound("domain %s not found", instanceUUID)
		}
		return libvirt.Domain{}, errdefs.Hypervisor(err, "failed to look up domain %s", instanceUUID)
	}
	return dom, nil
}

// IsDomainNotFound reports whether err means the domain does not exist.
func IsDomainNotFound(err error) bool {
	return errors.Is(err, errdefs.ErrNotFound) || libvirt.IsNotFound(err)
}

// IsSnapshotNotFound reports whether err means the snapshot (or its domain)
// does not exist.
func IsSnapshotNotFound(err error) bool {
	var e libvirt.Error
	if errors.As(err, &e) && e.Code == uint32(libvirt.ErrNoDomainSnapshot) {
		return true
	}
	return IsDomainNotFound(err)
}

// ParseUUID converts a textual uuid into libvirt's binary form.
func ParseUUID(s string) (libvirt.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return libvirt.UUID{}, errdefs.InvalidArgument("invalid instance uuid %q: %v", s, err)
	}
	return libvirt.UUID(u), nil
}

// DomainUUID returns the textual uuid of dom.
func DomainUUID(dom libvirt.Domain) string {
	return uuid.UUID(dom.UUID).String()
}

// Wrap reports a failed libvirt call as a hypervisor error.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errdefs.Hypervisor(err, "%s", fmt.Sprintf(format, args...))
}
