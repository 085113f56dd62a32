package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Brownie44l1/grain-api/internal/classify"
)

// Memory is an in-process TTL cache.
type Memory struct {
	cache *gocache.Cache
}

func NewMemory(ttl, cleanupInterval time.Duration) *Memory {
	return &Memory{cache: gocache.New(ttl, cleanupInterval)}
}

// Get returns a copy so callers cannot mutate the stored probabilities.
func (m *Memory) Get(key string) (classify.Prediction, bool) {
	val, found := m.cache.Get(key)
	if !found {
		return classify.Prediction{}, false
	}
	return clone(val.(classify.Prediction)), true
}

func (m *Memory) Set(key string, p classify.Prediction) {
	m.cache.SetDefault(key, clone(p))
}

func (m *Memory) Len() int {
	return m.cache.ItemCount()
}

func clone(p classify.Prediction) classify.Prediction {
	if p.Probabilities != nil {
		probs := make(map[string]float64, len(p.Probabilities))
		for k, v := range p.Probabilities {
			probs[k] = v
		}
		p.Probabilities = probs
	}
	return p
}
