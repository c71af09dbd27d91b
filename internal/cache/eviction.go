package cache

import (
	"math/rand"
	"strings"
)

// EvictionPolicy selects which entry the in-process tier drops when full
type EvictionPolicy string

const (
	// EvictionLRU drops the least recently accessed entry
	EvictionLRU EvictionPolicy = "lru"
	// EvictionLFU drops the least frequently accessed entry
	EvictionLFU EvictionPolicy = "lfu"
	// EvictionFIFO drops the oldest written entry
	EvictionFIFO EvictionPolicy = "fifo"
	// EvictionRandom drops a uniformly random entry. Unrecognized names behave the same.
	EvictionRandom EvictionPolicy = "random"
)

// EvictionPolicies lists the accepted policy names
func EvictionPolicies() []string {
	return []string{string(EvictionLRU), string(EvictionLFU), string(EvictionFIFO), string(EvictionRandom)}
}

func normalizePolicy(p EvictionPolicy) EvictionPolicy {
	switch EvictionPolicy(strings.ToLower(string(p))) {
	case EvictionLRU:
		return EvictionLRU
	case EvictionLFU:
		return EvictionLFU
	case EvictionFIFO:
		return EvictionFIFO
	default:
		return EvictionRandom
	}
}

// less orders candidates for eviction: true when a should go before b.
// Ties fall back to insertion order.
type less func(a, b *entry) bool

func victimOrder(p EvictionPolicy) less {
	switch p {
	case EvictionLRU:
		return func(a, b *entry) bool {
			if a.accessTick != b.accessTick {
				return a.accessTick < b.accessTick
			}
			return a.seq < b.seq
		}
	case EvictionLFU:
		return func(a, b *entry) bool {
			if a.accessCount != b.accessCount {
				return a.accessCount < b.accessCount
			}
			return a.seq < b.seq
		}
	case EvictionFIFO:
		return func(a, b *entry) bool {
			if a.writeTick != b.writeTick {
				return a.writeTick < b.writeTick
			}
			return a.seq < b.seq
		}
	default:
		return nil
	}
}

// pickVictim returns the key to evict. Caller holds the store lock.
func (s *MemoryStore) pickVictim() (string, bool) {
	if len(s.entries) == 0 {
		return "", false
	}

	order := victimOrder(s.policy)
	if order == nil {
		n := rand.Intn(len(s.entries))
		for key := range s.entries {
			if n == 0 {
				return key, true
			}
			n--
		}
		return "", false
	}

	var victim *entry
	for _, e := range s.entries {
		if victim == nil || order(e, victim) {
			victim = e
		}
	}
	return victim.key, true
}
