package proxypool

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/internal/models"
)

const (
	defaultProbeURL     = "https://www.youtube.com/generate_204"
	defaultProbeTimeout = 5 * time.Second
)

// Pool holds the configured proxy endpoints and their health counters
type Pool struct {
	mu           sync.Mutex
	endpoints    []*models.ProxyEndpoint
	probeURL     string
	probeTimeout time.Duration
	shuffle      func(n int, swap func(i, j int))
	now          func() time.Time
}

// Option configures a Pool
type Option func(*Pool)

// WithProbe sets the URL and timeout used by Test
func WithProbe(probeURL string, timeout time.Duration) Option {
	return func(p *Pool) {
		if probeURL != "" {
			p.probeURL = probeURL
		}
		if timeout > 0 {
			p.probeTimeout = timeout
		}
	}
}

// WithShuffle overrides the candidate shuffle; tests pass a no-op for determinism
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(p *Pool) {
		p.shuffle = shuffle
	}
}

// NewPool parses raw proxy URLs. Invalid entries are logged and skipped.
func NewPool(raw []string, opts ...Option) *Pool {
	p := &Pool{
		probeURL:     defaultProbeURL,
		probeTimeout: defaultProbeTimeout,
		shuffle:      rand.Shuffle,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	seen := make(map[string]bool)
	for _, r := range raw {
		ep, err := models.ParseProxyEndpoint(r)
		if err != nil {
			log.Warn("Skipping invalid proxy endpoint", "err", err)
			continue
		}
		if seen[ep.Address()] {
			continue
		}
		seen[ep.Address()] = true
		p.endpoints = append(p.endpoints, ep)
	}

	return p
}

// Len returns the number of configured endpoints
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Candidates returns a freshly shuffled copy of the endpoints with those
// last probed unhealthy moved to the back.
func (p *Pool) Candidates() []*models.ProxyEndpoint {
	p.mu.Lock()
	out := make([]*models.ProxyEndpoint, len(p.endpoints))
	for i, ep := range p.endpoints {
		cp := *ep
		out[i] = &cp
	}
	p.mu.Unlock()

	p.shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HealthStatus != models.ProxyHealthUnhealthy &&
			out[j].HealthStatus == models.ProxyHealthUnhealthy
	})
	return out
}

// Report records the outcome of a fetch attempt through ep
func (p *Pool) Report(ep *models.ProxyEndpoint, ok bool) {
	if ep == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	target := p.lookupLocked(ep.Address())
	if target == nil {
		return
	}
	if ok {
		target.Successes++
		target.HealthStatus = models.ProxyHealthHealthy
	} else {
		target.Failures++
	}
}

// Test probes the endpoint and records the result
func (p *Pool) Test(ctx context.Context, ep *models.ProxyEndpoint) bool {
	ok := p.probe(ctx, ep)

	p.mu.Lock()
	if target := p.lookupLocked(ep.Address()); target != nil {
		target.LastTestedAt = p.now()
		if ok {
			target.HealthStatus = models.ProxyHealthHealthy
		} else {
			target.HealthStatus = models.ProxyHealthUnhealthy
		}
	}
	p.mu.Unlock()

	if ok {
		log.Debug("Proxy probe succeeded", "proxy", ep.Redacted())
	} else {
		log.Warn("Proxy probe failed", "proxy", ep.Redacted())
	}
	return ok
}

// TestAll probes every endpoint concurrently and returns the healthy count
func (p *Pool) TestAll(ctx context.Context) int {
	candidates := p.Candidates()

	var wg sync.WaitGroup
	results := make([]bool, len(candidates))
	for i, ep := range candidates {
		wg.Add(1)
		go func(i int, ep *models.ProxyEndpoint) {
			defer wg.Done()
			results[i] = p.Test(ctx, ep)
		}(i, ep)
	}
	wg.Wait()

	healthy := 0
	for _, ok := range results {
		if ok {
			healthy++
		}
	}
	log.Infof("Proxy health check: %d/%d healthy", healthy, len(candidates))
	return healthy
}

// StartHealthChecks runs TestAll immediately and then every interval
// until ctx is cancelled.
func (p *Pool) StartHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 || p.Len() == 0 {
		return
	}

	go func() {
		p.TestAll(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.TestAll(ctx)
			}
		}
	}()
}

// Stats returns a snapshot of every endpoint
func (p *Pool) Stats() []models.ProxyEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.ProxyEndpoint, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = *ep
	}
	return out
}

func (p *Pool) lookupLocked(addr string) *models.ProxyEndpoint {
	for _, ep := range p.endpoints {
		if ep.Address() == addr {
			return ep
		}
	}
	return nil
}

func (p *Pool) probe(ctx context.Context, ep *models.ProxyEndpoint) bool {
	proxyURL, err := url.Parse(ep.URL())
	if err != nil {
		return false
	}

	client := &http.Client{
		Timeout: p.probeTimeout,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Debug("Proxy probe error", "proxy", ep.Redacted(), "err", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 400
}

// String implements fmt.Stringer without leaking credentials
func (p *Pool) String() string {
	return fmt.Sprintf("proxypool(%d endpoints)", p.Len())
}
