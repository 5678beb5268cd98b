package manager

import "sync"

// Stats counts proxied requests in total, per endpoint, per user, and per
// user+endpoint. Counters live in memory only.
type Stats struct {
	mu           sync.Mutex
	total        int
	endpoint     map[string]int
	user         map[string]int
	userEndpoint map[string]map[string]int
}

func newStats() *Stats {
	return &Stats{
		endpoint:     map[string]int{},
		user:         map[string]int{},
		userEndpoint: map[string]map[string]int{},
	}
}

// ResetEndpoint zeroes the counter of a (re)registered endpoint.
func (s *Stats) ResetEndpoint(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint[endpoint] = 0
}

// ResetUser zeroes the counters of a (re)registered user.
func (s *Stats) ResetUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user[username] = 0
	s.userEndpoint[username] = map[string]int{}
}

// Inc counts one request against an endpoint and a user.
func (s *Stats) Inc(endpoint, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.endpoint[endpoint]++
	s.user[username]++

	perUser := s.userEndpoint[username]
	if perUser == nil {
		perUser = map[string]int{}
		s.userEndpoint[username] = perUser
	}
	perUser[endpoint]++
}

// Total returns the runtime-wide request count.
func (s *Stats) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// User returns the request count of a user and whether it is tracked.
func (s *Stats) User(username string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.user[username]
	return n, ok
}

// UserEndpoints returns a copy of the per-endpoint counters of a user.
func (s *Stats) UserEndpoints(username string) (map[string]int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	per, ok := s.userEndpoint[username]
	if !ok {
		return nil, false
	}
	out := make(map[string]int, len(per))
	for k, v := range per {
		out[k] = v
	}
	return out, true
}
