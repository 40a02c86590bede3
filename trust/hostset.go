package trust

import "sync"

// HostSet is a concurrency-safe set of host addresses. It backs the
// down-device list maintained by the monitor and the credential cleanup
// queue fed by the reconciler.
type HostSet struct {
	mu    sync.RWMutex
	hosts map[string]struct{}
}

func NewHostSet() *HostSet {
	return &HostSet{hosts: make(map[string]struct{})}
}

func (s *HostSet) Add(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[host] = struct{}{}
}

func (s *HostSet) Remove(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hosts, host)
}

func (s *HostSet) Contains(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hosts[host]
	return ok
}

// Hosts returns a snapshot of the set's members.
func (s *HostSet) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hosts := make([]string, 0, len(s.hosts))
	for h := range s.hosts {
		hosts = append(hosts, h)
	}
	return hosts
}

func (s *HostSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hosts)
}
