package alloc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/errdefs"
)

const (
	// DefaultPortBase is the first VNC display port handed out.
	DefaultPortBase = 5900

	// DefaultPortAttempts bounds claim retries under contention.
	DefaultPortAttempts = 32

	maxPort = 65535
)

// PortClaims is the persistence the port allocator needs. ClaimPort must
// fail with an error matching errdefs.ErrConflict when the port is already
// claimed, and ReleasePort must succeed when no claim exists.
type PortClaims interface {
	MaxPort(ctx context.Context) (port int, ok bool, err error)
	ClaimPort(ctx context.Context, port int) error
	ReleasePort(ctx context.Context, port int) error
}

// PortAllocator claims unique display ports on top of a uniqueness
// constraint in the store.
type PortAllocator struct {
	claims   PortClaims
	base     int
	attempts int
	log      *zap.Logger
}

// NewPortAllocator returns an allocator starting at base. Zero values pick
// DefaultPortBase and DefaultPortAttempts.
func NewPortAllocator(claims PortClaims, base, attempts int, log *zap.Logger) *PortAllocator {
	if base <= 0 {
		base = DefaultPortBase
	}
	if attempts <= 0 {
		attempts = DefaultPortAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PortAllocator{claims: claims, base: base, attempts: attempts, log: log}
}

// Allocate claims the next free port above the highest existing claim.
// A concurrent claim of the same value makes it retry with a higher
// candidate; it gives up after the configured number of attempts.
func (a *PortAllocator) Allocate(ctx context.Context) (int, error) {
	last := a.base - 1
	for attempt := 1; attempt <= a.attempts; attempt++ {
		highest, ok, err := a.claims.MaxPort(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read highest port claim: %w", err)
		}

		candidate := a.base
		if ok && highest+1 > candidate {
			candidate = highest + 1
		}
		if candidate <= last {
			candidate = last + 1
		}
		if candidate > maxPort {
			return 0, errdefs.Exhausted("display ports exhausted above %d", a.base)
		}
		last = candidate

		err = a.claims.ClaimPort(ctx, candidate)
		if err == nil {
			a.log.Debug("claimed display port", zap.Int("port", candidate), zap.Int("attempt", attempt))
			return candidate, nil
		}
		if !errors.Is(err, errdefs.ErrConflict) {
			return 0, fmt.Errorf("failed to claim port %d: %w", candidate, err)
		}
		a.log.Debug("display port already claimed, retrying", zap.Int("port", candidate))
	}
	return 0, errdefs.Exhausted("no display port claimed after %d attempts", a.attempts)
}

// Release drops the claim on port. Releasing an unclaimed port is a no-op.
func (a *PortAllocator) Release(ctx context.Context, port int) error {
	if err := a.claims.ReleasePort(ctx, port); err != nil {
		return fmt.Errorf("failed to release port %d: %w", port, err)
	}
	return nil
}
