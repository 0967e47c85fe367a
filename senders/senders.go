// Package senders tracks which hosts are feeding each input universe.
package senders

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gopatchy/lxnet/config"
)

type SenderInfo struct {
	Universe config.Universe `json:"-"`
	Name     string          `json:"universe"`
	IP       string          `json:"ip"`
	LastSeen time.Time       `json:"last_seen"`
}

type senderKey struct {
	universe config.Universe
	ip       string
}

type UniverseSenders struct {
	mu      sync.Mutex
	entries map[senderKey]time.Time
	now     func() time.Time
}

func New() *UniverseSenders {
	return &UniverseSenders{
		entries: map[senderKey]time.Time{},
		now:     time.Now,
	}
}

// Record notes that ip sent a frame for u
func (s *UniverseSenders) Record(u config.Universe, ip net.IP) {
	key := senderKey{universe: u, ip: ip.String()}
	s.mu.Lock()
	s.entries[key] = s.now()
	s.mu.Unlock()
}

// Expire drops senders not heard from within maxAge and returns how many
// were removed.
func (s *UniverseSenders) Expire(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	removed := 0
	s.mu.Lock()
	for k, t := range s.entries {
		if t.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// ForUniverse returns the addresses currently sending to u
func (s *UniverseSenders) ForUniverse(u config.Universe) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ips []string
	for k := range s.entries {
		if k.universe == u {
			ips = append(ips, k.ip)
		}
	}
	sort.Strings(ips)
	return ips
}

func (s *UniverseSenders) GetAll() []SenderInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]SenderInfo, 0, len(s.entries))
	for k, t := range s.entries {
		result = append(result, SenderInfo{
			Universe: k.universe,
			Name:     k.universe.String(),
			IP:       k.ip,
			LastSeen: t,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].IP < result[j].IP
	})
	return result
}
