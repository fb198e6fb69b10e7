// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package discovery

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSeenHosts is the default capacity of the seen-host set
const DefaultSeenHosts = 65536

// SeenHosts is the bounded set of (ip, mac) pairs already reported. It
// lives only as long as the process. When full, the least recently seen
// pair is evicted and would be reported again on its next request.
type SeenHosts struct {
	cache *lru.Cache[string, struct{}]
}

// NewSeenHosts creates a set holding up to size pairs
func NewSeenHosts(size int) (*SeenHosts, error) {
	if size <= 0 {
		size = DefaultSeenHosts
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create seen-host cache: %w", err)
	}
	return &SeenHosts{cache: cache}, nil
}

func seenKey(ip, mac string) string {
	return ip + "/" + mac
}

// MarkNew records the pair and reports whether it was not already present
func (s *SeenHosts) MarkNew(ip, mac string) bool {
	found, _ := s.cache.ContainsOrAdd(seenKey(ip, mac), struct{}{})
	return !found
}

// Forget removes the pair so it is reported again
func (s *SeenHosts) Forget(ip, mac string) {
	s.cache.Remove(seenKey(ip, mac))
}

// Len returns the number of pairs held
func (s *SeenHosts) Len() int {
	return s.cache.Len()
}

// Reset empties the set
func (s *SeenHosts) Reset() {
	s.cache.Purge()
}
