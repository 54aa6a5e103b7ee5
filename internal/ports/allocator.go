// Package ports assigns collision-free host ports for workload publishing.
//
// A candidate port is derived by hashing the tenant id together with the
// wall clock and a per-mapping offset, then probed with a bind-and-release
// test socket. Mixing in the clock makes allocation intentionally
// non-deterministic across retries of the same logical request; the bind
// probe is the only race-closing mechanism and stays best-effort (there is
// a window between the probe and the runtime actually binding the port).
package ports

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
)

// Defaults chosen to match the platform's historical allocation window.
const (
	DefaultBasePort   = 6000
	DefaultRangeSize  = 1000
	DefaultMaxRetries = 25
)

// Allocator hands out host ports inside [BasePort, BasePort+RangeSize).
type Allocator struct {
	BasePort   int
	RangeSize  int
	MaxRetries int

	// probe reports whether the port is currently bindable. Overridable
	// in tests; defaults to a TCP bind-and-release check.
	probe func(port int) bool
}

// NewAllocator builds an Allocator, falling back to defaults for
// non-positive parameters.
func NewAllocator(basePort, rangeSize, maxRetries int) *Allocator {
	a := &Allocator{BasePort: basePort, RangeSize: rangeSize, MaxRetries: maxRetries}
	if a.BasePort <= 0 {
		a.BasePort = DefaultBasePort
	}
	if a.RangeSize <= 0 {
		a.RangeSize = DefaultRangeSize
	}
	if a.MaxRetries <= 0 {
		a.MaxRetries = DefaultMaxRetries
	}
	a.probe = bindProbe
	return a
}

// Allocate returns an available host port for the tenant. The offset
// decorrelates candidates when one request needs several ports; reserved
// holds ports already granted earlier in the same request, which are
// rejected even if momentarily bindable.
func (a *Allocator) Allocate(tenantID string, offset int, reserved map[int]struct{}) (int, error) {
	start := a.candidate(tenantID, offset)
	port := start
	for attempt := 0; attempt < a.MaxRetries; attempt++ {
		if _, taken := reserved[port]; !taken && a.probe(port) {
			return port, nil
		}
		port++
		if port >= a.BasePort+a.RangeSize {
			port = a.BasePort
		}
	}
	return 0, fmt.Errorf("%w: tenant %s after %d probes", domain.ErrPortExhausted, tenantID, a.MaxRetries)
}

// candidate mixes tenant id, wall clock and offset through SHA-256 into
// the configured range.
func (a *Allocator) candidate(tenantID string, offset int) int {
	seed := fmt.Sprintf("%s:%d:%d", tenantID, time.Now().UnixNano(), offset)
	sum := sha256.Sum256([]byte(seed))
	n := binary.BigEndian.Uint64(sum[:8])
	return a.BasePort + int(n%uint64(a.RangeSize))
}

func bindProbe(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
