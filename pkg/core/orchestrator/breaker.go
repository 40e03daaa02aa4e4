package orchestrator

import (
	"sync"
	"time"

	"github.com/audit-pit-crew/gateway/pkg/common/retry"
)

// cloneBreakers holds one retry.CircuitBreaker per repository URL, so a
// persistently-unreachable remote trips independently of every other
// repository the gateway scans.
type cloneBreakers struct {
	mu       sync.Mutex
	breakers map[string]*retry.CircuitBreaker
}

func newCloneBreakers() *cloneBreakers {
	return &cloneBreakers{breakers: make(map[string]*retry.CircuitBreaker)}
}

// For returns the breaker for repoURL, creating one on first use. Five
// consecutive clone failures open the breaker for five minutes.
func (c *cloneBreakers) For(repoURL string) *retry.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[repoURL]; ok {
		return b
	}
	b := retry.NewCircuitBreaker(5, 5*time.Minute)
	c.breakers[repoURL] = b
	return b
}
