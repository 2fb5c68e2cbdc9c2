package vertica

import (
	"context"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/vertica-tools/vload/pkg/config"
	"github.com/vertica-tools/vload/pkg/errors"
	"github.com/vertica-tools/vload/pkg/logger"
)

// DialFunc dials one cluster node and returns a live session.
type DialFunc func(ctx context.Context, node string, cfg config.ConnectionConfig) (Conn, error)

// Provider produces live connections to a Vertica cluster. Each Acquire
// selects a candidate node uniformly at random; with Reconnect enabled the
// selection is repeated on every call so that a sticky load balancer cannot
// pin all traffic to the same node. The Provider holds no mutable state
// besides the sticky node, so concurrent Acquire calls need no external
// coordination.
type Provider struct {
	cfg  config.ConnectionConfig
	dial DialFunc
	log  *zap.Logger

	mu     sync.Mutex
	sticky string // node reused when Reconnect is off
}

// Option configures a Provider.
type Option func(*Provider)

// WithDial overrides the dial function. Tests use this to substitute an
// in-memory connection.
func WithDial(dial DialFunc) Option {
	return func(p *Provider) { p.dial = dial }
}

// WithLogger overrides the provider logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Provider) { p.log = log }
}

// NewProvider creates a Provider for the given cluster configuration.
func NewProvider(cfg config.ConnectionConfig, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:  cfg,
		dial: dialSQL,
		log:  logger.Get().Named("vertica"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Acquire returns a live connection to one cluster node. Candidates are
// tried in random order and the first successful dial wins. When every
// candidate fails, a connection error wrapping the last dial failure is
// returned. Acquire does not retry; resilience is the caller's concern.
func (p *Provider) Acquire(ctx context.Context) (Conn, error) {
	candidates := p.candidates()

	var lastErr error
	for _, node := range candidates {
		conn, err := p.dial(ctx, node, p.cfg)
		if err != nil {
			p.log.Warn("node dial failed",
				zap.String("node", node),
				zap.Error(err))
			lastErr = err
			continue
		}

		if !p.cfg.Reconnect {
			p.mu.Lock()
			p.sticky = node
			p.mu.Unlock()
		}

		p.log.Debug("connected",
			zap.String("node", node),
			zap.String("database", p.cfg.Database))
		return conn, nil
	}

	return nil, errors.Wrap(lastErr, errors.ErrorTypeConnection,
		"no reachable node").WithDetail("nodes", p.cfg.Nodes)
}

// candidates returns the node list in dial order. With Reconnect the order
// is a fresh random permutation per call; without it the previously chosen
// node is kept in front so the session lands on the same node again.
func (p *Provider) candidates() []string {
	nodes := p.cfg.Nodes

	if !p.cfg.Reconnect {
		p.mu.Lock()
		sticky := p.sticky
		p.mu.Unlock()
		if sticky != "" {
			ordered := make([]string, 0, len(nodes))
			ordered = append(ordered, sticky)
			for _, n := range nodes {
				if n != sticky {
					ordered = append(ordered, n)
				}
			}
			return ordered
		}
	}

	ordered := make([]string, len(nodes))
	for i, j := range rand.Perm(len(nodes)) {
		ordered[i] = nodes[j]
	}
	return ordered
}
