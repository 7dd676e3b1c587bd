package acquisition

import (
	"fmt"
	"time"

	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/pkg/config"
)

// DirectStrategyID identifies the final attempt that bypasses every proxy
const DirectStrategyID = "direct"

// ChainConfig holds the strategy parameters; the chain is data, not code paths
type ChainConfig struct {
	ClientProfiles   []string
	DirectProfile    string
	MaxProxyAttempts int
	AttemptTimeout   time.Duration
	MaxRetries       int
	BotCooldown      time.Duration
}

// ChainConfigFrom maps the acquisition settings
func ChainConfigFrom(cfg config.AcquisitionConfig) ChainConfig {
	return ChainConfig{
		ClientProfiles:   cfg.ClientProfiles,
		DirectProfile:    cfg.DirectProfile,
		MaxProxyAttempts: cfg.MaxProxyAttempts,
		AttemptTimeout:   cfg.AttemptTimeout,
		MaxRetries:       cfg.MaxRetries,
		BotCooldown:      cfg.BotCooldown,
	}
}

// BuildChain returns up to MaxProxyAttempts proxy attempts, rotating through
// the client profiles, followed by exactly one direct attempt.
func BuildChain(cfg ChainConfig, proxies []*models.ProxyEndpoint) []models.FetchAttempt {
	n := len(proxies)
	if cfg.MaxProxyAttempts < n {
		n = cfg.MaxProxyAttempts
	}

	profiles := cfg.ClientProfiles
	if len(profiles) == 0 {
		profiles = []string{cfg.DirectProfile}
	}

	chain := make([]models.FetchAttempt, 0, n+1)
	for i := 0; i < n; i++ {
		chain = append(chain, models.FetchAttempt{
			StrategyID:    fmt.Sprintf("proxy-%d", i+1),
			Proxy:         proxies[i],
			ClientProfile: profiles[i%len(profiles)],
			Timeout:       cfg.AttemptTimeout,
			MaxRetries:    cfg.MaxRetries,
		})
	}

	direct := cfg.DirectProfile
	if direct == "" {
		direct = profiles[0]
	}
	return append(chain, models.FetchAttempt{
		StrategyID:    DirectStrategyID,
		ClientProfile: direct,
		Timeout:       cfg.AttemptTimeout,
		MaxRetries:    cfg.MaxRetries,
	})
}
