package manager

import (
	"crypto/subtle"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/authgate/authgate/model"
)

// state holds the services and users of one proxy runtime.
type state struct {
	mu sync.RWMutex
	// byEndpoint maps the normalized "from" path to the service bound to it.
	byEndpoint map[string]*service
	// byName maps service names to their endpoint key.
	byName map[string]string
}

type service struct {
	createdAt   time.Time
	createdWith model.CreateService
	users       map[string]*user
	// access maps credential digests to usernames for request authorization.
	access map[string]string
}

type user struct {
	username  string
	digest    string
	createdAt time.Time
}

func newState() *state {
	return &state{
		byEndpoint: map[string]*service{},
		byName:     map[string]string{},
	}
}

// normalizeEndpoint trims the "from" path and forces a leading slash.
func normalizeEndpoint(from string) string {
	endpoint := strings.TrimSpace(from)
	if endpoint == "" {
		endpoint = "/"
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return endpoint
}

func (s *state) addService(create model.CreateService, createdAt time.Time) (string, error) {
	endpoint := normalizeEndpoint(create.From)
	create.From = endpoint

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[create.Name]; ok {
		return "", &ServiceExistsError{Name: create.Name, Endpoint: endpoint}
	}
	// Nested endpoints cannot be told apart by prefix matching.
	for existing := range s.byEndpoint {
		if strings.HasPrefix(existing, endpoint) || strings.HasPrefix(endpoint, existing) {
			return "", &ServiceExistsError{Name: create.Name, Endpoint: endpoint}
		}
	}

	s.byName[create.Name] = endpoint
	s.byEndpoint[endpoint] = &service{
		createdAt:   createdAt,
		createdWith: create,
		users:       map[string]*user{},
		access:      map[string]string{},
	}
	return endpoint, nil
}

func (s *state) removeService(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint, ok := s.byName[name]
	if !ok {
		return &ServiceNotFoundError{Name: name}
	}
	delete(s.byName, name)
	delete(s.byEndpoint, endpoint)
	return nil
}

func (s *state) service(name string) (model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.lookup(name)
	if !ok {
		return model.Service{}, &ServiceNotFoundError{Name: name}
	}
	return model.Service{CreateService: svc.createdWith, CreatedAt: svc.createdAt}, nil
}

func (s *state) contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lookup(name)
	return ok
}

func (s *state) services() []model.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Service, 0, len(s.byEndpoint))
	for _, svc := range s.byEndpoint {
		out = append(out, model.Service{CreateService: svc.createdWith, CreatedAt: svc.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *state) serviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEndpoint)
}

func (s *state) userCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, svc := range s.byEndpoint {
		n += len(svc.users)
	}
	return n
}

func (s *state) addUser(name, username, digest string, createdAt time.Time) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.lookup(name)
	if !ok {
		return model.User{}, &ServiceNotFoundError{Name: name}
	}
	if _, ok := svc.users[username]; ok {
		return model.User{}, &UserExistsError{Service: name, Username: username}
	}

	svc.users[username] = &user{username: username, digest: digest, createdAt: createdAt}
	svc.access[digest] = username

	return model.User{Username: username, CreatedAt: createdAt}, nil
}

func (s *state) removeUser(name, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.lookup(name)
	if !ok {
		return &ServiceNotFoundError{Name: name}
	}
	u, ok := svc.users[username]
	if !ok {
		return &UserNotFoundError{Service: name, Username: username}
	}
	delete(svc.users, username)
	delete(svc.access, u.digest)
	return nil
}

func (s *state) user(name, username string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.lookup(name)
	if !ok {
		return model.User{}, &ServiceNotFoundError{Name: name}
	}
	u, ok := svc.users[username]
	if !ok {
		return model.User{}, &UserNotFoundError{Service: name, Username: username}
	}
	return model.User{Username: u.username, CreatedAt: u.createdAt}, nil
}

func (s *state) usersOf(name string) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.lookup(name)
	if !ok {
		return nil, &ServiceNotFoundError{Name: name}
	}
	out := make([]model.User, 0, len(svc.users))
	for _, u := range svc.users {
		out = append(out, model.User{Username: u.username, CreatedAt: u.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// route is the matched service information a proxied request needs.
type route struct {
	Service         string   `json:"service"`
	Endpoint        string   `json:"endpoint"`
	Username        string   `json:"username"`
	To              string   `json:"to"`
	RequestTimeout  int64    `json:"requestTimeout"`
	ResponseTimeout int64    `json:"responseTimeout"`
	ServerName      []string `json:"serverName"`
}

// match finds the service owning the longest endpoint prefix of path.
func (s *state) match(path string) (route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best string
	for endpoint := range s.byEndpoint {
		if strings.HasPrefix(path, endpoint) && len(endpoint) > len(best) {
			best = endpoint
		}
	}
	if best == "" {
		return route{}, false
	}

	svc := s.byEndpoint[best]
	return route{
		Service:         svc.createdWith.Name,
		Endpoint:        best,
		To:              svc.createdWith.To,
		RequestTimeout:  svc.createdWith.RequestTimeout.Std().Milliseconds(),
		ResponseTimeout: svc.createdWith.ResponseTimeout.Std().Milliseconds(),
		ServerName:      svc.createdWith.ServerName,
	}, true
}

// authorize resolves a credential digest to a username for the endpoint.
func (s *state) authorize(endpoint, digest string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.byEndpoint[endpoint]
	if !ok {
		return "", false
	}

	// Compare against every stored digest so lookup time does not depend
	// on how close the presented credentials are to a valid pair.
	var username string
	found := false
	for d, u := range svc.access {
		if subtle.ConstantTimeCompare([]byte(d), []byte(digest)) == 1 {
			username, found = u, true
		}
	}
	return username, found
}

func (s *state) endpointOf(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byName[name]
}

// lookup must be called with the state lock held.
func (s *state) lookup(name string) (*service, bool) {
	endpoint, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	svc, ok := s.byEndpoint[endpoint]
	return svc, ok
}
