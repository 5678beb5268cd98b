package manager

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/store"
	"github.com/authgate/authgate/model"
)

// Manager owns every proxy runtime and exposes the service and user
// operations behind the management API. Runtimes are keyed by their bind
// address set, so services sharing addresses share listeners.
type Manager struct {
	cfg   *config.Config
	store store.Store
	log   *zap.SugaredLogger

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

func New(cfg *config.Config, st store.Store, log *zap.SugaredLogger) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		log:      log,
		runtimes: map[string]*Runtime{},
	}
}

// prepare fills daemon defaults into a descriptor and validates it.
func (m *Manager) prepare(create *model.CreateService) error {
	if create.Name == "" {
		create.Name = model.NextServiceName()
	}
	create.From = normalizeEndpoint(create.From)

	if create.To == "" {
		return confErrorf("service %s: destination URL is required", create.Name)
	}
	target, err := url.Parse(create.To)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return confErrorf("service %s: invalid destination URL %q", create.Name, create.To)
	}

	if create.Auth != nil && !create.Auth.Valid() {
		return confErrorf("service %s: unsupported auth method %q", create.Name, create.Auth.Method)
	}

	if create.BindHTTP.Empty() && create.BindHTTPS.Empty() {
		create.BindHTTP, _ = model.ParseAddresses(m.cfg.DefaultBindHTTP...)
		create.BindHTTPS, _ = model.ParseAddresses(m.cfg.DefaultBindHTTPS...)
	}
	if create.BindHTTP.Empty() && create.BindHTTPS.Empty() {
		return confErrorf("service %s: no listening addresses specified", create.Name)
	}

	if len(create.ServerName) == 0 {
		create.ServerName = model.Names(m.cfg.DefaultServerName)
	}

	if !create.BindHTTPS.Empty() {
		if create.Cert == nil {
			create.Cert = &model.CreateServiceCert{
				Path:    m.cfg.DefaultCertPath,
				KeyPath: m.cfg.DefaultKeyPath,
			}
		}
		if create.Cert.Path == "" || create.Cert.KeyPath == "" {
			return confErrorf("service %s: HTTPS bind requires a certificate and key", create.Name)
		}
		hash, err := certHash(create.Cert.Path)
		if err != nil {
			return err
		}
		create.Cert.Hash = hash
	}

	if create.RequestTimeout == 0 {
		create.RequestTimeout = model.Duration(m.cfg.RequestTimeout)
	}
	if create.ResponseTimeout == 0 {
		create.ResponseTimeout = model.Duration(m.cfg.ResponseTimeout)
	}

	if create.CPUThreads <= 0 {
		if m.cfg.DefaultCPUThreads > 0 {
			create.CPUThreads = m.cfg.DefaultCPUThreads
		} else {
			create.CPUThreads = 1
		}
	}

	return nil
}

// CreateService registers and starts a new service.
func (m *Manager) CreateService(create model.CreateService) (model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addService(create, time.Now(), true)
}

func (m *Manager) addService(create model.CreateService, createdAt time.Time, persist bool) (model.Service, error) {
	if err := m.prepare(&create); err != nil {
		return model.Service{}, err
	}

	if _, rt, ok := m.findService(create.Name); ok {
		return model.Service{}, &ServiceExistsError{Name: create.Name, Endpoint: rt.state.endpointOf(create.Name)}
	}

	key := create.BindHTTP.Merge(create.BindHTTPS).Key()
	rt, started := m.runtimes[key]
	if !started {
		rt = newRuntime(runtimeConf{
			bindHTTP:          create.BindHTTP,
			bindHTTPS:         create.BindHTTPS,
			certPath:          certPath(create.Cert),
			keyPath:           keyPath(create.Cert),
			readHeaderTimeout: time.Duration(m.cfg.ReadHeaderTimeoutSeconds) * time.Second,
			idleTimeout:       time.Duration(m.cfg.IdleTimeoutSeconds) * time.Second,
			maxHeaderBytes:    m.cfg.MaxHeaderBytes,
			http1Only:         m.cfg.HTTP1Only,
		})
	}

	endpoint, err := rt.state.addService(create, createdAt)
	if err != nil {
		return model.Service{}, err
	}
	rt.stats.ResetEndpoint(endpoint)

	if !started {
		if err := rt.Start(); err != nil {
			rt.state.removeService(create.Name)
			return model.Service{}, err
		}
		m.runtimes[key] = rt
		m.log.Infow("proxy started",
			"http", rt.HTTPAddrs().String(),
			"https", rt.HTTPSAddrs().String())
	}

	if persist {
		if err := m.store.PutService(store.ServiceRecord{Create: create, CreatedAt: createdAt}); err != nil {
			m.log.Errorw("persist service", "service", create.Name, "err", err)
		}
	}

	m.log.Infow("service created", "service", create.Name, "from", create.From, "to", create.To)
	return model.Service{CreateService: create, CreatedAt: createdAt}, nil
}

// Service returns a registered service by name.
func (m *Manager) Service(name string) (model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, rt, ok := m.findService(name)
	if !ok {
		return model.Service{}, &ServiceNotFoundError{Name: name}
	}
	return rt.state.service(name)
}

// Services lists all registered services sorted by name.
func (m *Manager) Services() []model.Service {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Service
	for _, rt := range m.runtimes {
		out = append(out, rt.state.services()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeleteService removes a service and stops its runtime when it is the last
// one bound there. The endpoint's request counters are dropped with it.
func (m *Manager) DeleteService(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, rt, ok := m.findService(name)
	if !ok {
		return &ServiceNotFoundError{Name: name}
	}

	if err := rt.state.removeService(name); err != nil {
		return err
	}

	if rt.state.serviceCount() == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Stop(ctx); err != nil {
			m.log.Errorw("stop proxy", "err", err)
		}
		delete(m.runtimes, key)
	}

	if err := m.store.DeleteService(name); err != nil {
		m.log.Errorw("forget service", "service", name, "err", err)
	}

	m.log.Infow("service deleted", "service", name)
	return nil
}

// CreateUser grants a user access to a service. Only a digest of the
// credentials is kept.
func (m *Manager) CreateUser(service string, create model.CreateUser) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if create.Username == "" {
		return model.User{}, confErrorf("username is required")
	}

	_, rt, ok := m.findService(service)
	if !ok {
		return model.User{}, &ServiceNotFoundError{Name: service}
	}

	digest := CredentialDigest(create.Username, create.Password)
	user, err := rt.state.addUser(service, create.Username, digest, time.Now())
	if err != nil {
		return model.User{}, err
	}
	rt.stats.ResetUser(user.Username)

	if err := m.store.PutUser(store.UserRecord{
		Service:   service,
		Username:  user.Username,
		Digest:    digest,
		CreatedAt: user.CreatedAt,
	}); err != nil {
		m.log.Errorw("persist user", "service", service, "user", user.Username, "err", err)
	}

	m.log.Infow("user created", "service", service, "user", user.Username)
	return user, nil
}

// DeleteUser revokes a user's access and drops its request counters.
func (m *Manager) DeleteUser(service, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, rt, ok := m.findService(service)
	if !ok {
		return &ServiceNotFoundError{Name: service}
	}
	if err := rt.state.removeUser(service, username); err != nil {
		return err
	}

	if err := m.store.DeleteUser(service, username); err != nil {
		m.log.Errorw("forget user", "service", service, "user", username, "err", err)
	}

	m.log.Infow("user deleted", "service", service, "user", username)
	return nil
}

// Users lists the users of a service.
func (m *Manager) Users(service string) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, rt, ok := m.findService(service)
	if !ok {
		return nil, &ServiceNotFoundError{Name: service}
	}
	return rt.state.usersOf(service)
}

// User returns a single user of a service.
func (m *Manager) User(service, username string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, rt, ok := m.findService(service)
	if !ok {
		return model.User{}, &ServiceNotFoundError{Name: service}
	}
	return rt.state.user(service, username)
}

// UserStats returns the total request count of a user. Users that have not
// made any request yet have no stats.
func (m *Manager) UserStats(service, username string) (model.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, rt, ok := m.findService(service)
	if !ok {
		return model.UserStats{}, &ServiceNotFoundError{Name: service}
	}
	if _, err := rt.state.user(service, username); err != nil {
		return model.UserStats{}, err
	}

	count, ok := rt.stats.User(username)
	if !ok {
		return model.UserStats{}, &UserNotFoundError{Service: service, Username: username}
	}
	return model.UserStats{Requests: count}, nil
}

// UserEndpointStats returns a user's request counts broken down by request
// path.
func (m *Manager) UserEndpointStats(service, username string) (model.UserEndpointStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, rt, ok := m.findService(service)
	if !ok {
		return nil, &ServiceNotFoundError{Name: service}
	}
	if _, err := rt.state.user(service, username); err != nil {
		return nil, err
	}

	endpoints, ok := rt.stats.UserEndpoints(username)
	if !ok {
		return nil, &UserNotFoundError{Service: service, Username: username}
	}
	return model.UserEndpointStats(endpoints), nil
}

// GlobalStats aggregates counters across every runtime.
func (m *Manager) GlobalStats() model.GlobalStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats model.GlobalStats
	for _, rt := range m.runtimes {
		stats.Services += rt.state.serviceCount()
		stats.Users += rt.state.userCount()
		stats.Requests.Requests += rt.stats.Total()
	}
	return stats
}

// ServiceAddrs returns the actual bound addresses backing a service. Binds
// on port 0 resolve to the assigned port.
func (m *Manager) ServiceAddrs(name string) (httpAddrs, httpsAddrs model.Addresses, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, rt, ok := m.findService(name)
	if !ok {
		return nil, nil, &ServiceNotFoundError{Name: name}
	}
	return rt.HTTPAddrs(), rt.HTTPSAddrs(), nil
}

// Restore reloads persisted services and users from the store.
func (m *Manager) Restore() error {
	services, users, err := m.store.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range services {
		if _, err := m.addService(rec.Create, rec.CreatedAt, false); err != nil {
			m.log.Errorw("restore service", "service", rec.Create.Name, "err", err)
			continue
		}
	}
	for _, rec := range users {
		_, rt, ok := m.findService(rec.Service)
		if !ok {
			m.log.Errorw("restore user: service missing", "service", rec.Service, "user", rec.Username)
			continue
		}
		if _, err := rt.state.addUser(rec.Service, rec.Username, rec.Digest, rec.CreatedAt); err != nil {
			m.log.Errorw("restore user", "service", rec.Service, "user", rec.Username, "err", err)
			continue
		}
		rt.stats.ResetUser(rec.Username)
	}

	if len(services) > 0 {
		m.log.Infow("state restored", "services", len(services), "users", len(users))
	}
	return nil
}

// Preload registers boot-time service descriptors. A descriptor equal to an
// already registered service is skipped rather than rejected, so restarts
// with both persistence and descriptor files stay quiet.
func (m *Manager) Preload(creates []model.CreateService) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, create := range creates {
		candidate := create
		if err := m.prepare(&candidate); err != nil {
			return err
		}
		if _, rt, ok := m.findService(candidate.Name); ok {
			existing, err := rt.state.service(candidate.Name)
			if err == nil && existing.CreateService.Equal(candidate) {
				continue
			}
			return &ServiceExistsError{Name: candidate.Name, Endpoint: rt.state.endpointOf(candidate.Name)}
		}
		if _, err := m.addService(candidate, time.Now(), true); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down every runtime.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	runtimes := m.runtimes
	m.runtimes = map[string]*Runtime{}
	m.mu.Unlock()

	var firstErr error
	for _, rt := range runtimes {
		if err := rt.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// findService must be called with the manager lock held.
func (m *Manager) findService(name string) (string, *Runtime, bool) {
	for key, rt := range m.runtimes {
		if rt.state.contains(name) {
			return key, rt, true
		}
	}
	return "", nil, false
}

func certPath(cert *model.CreateServiceCert) string {
	if cert == nil {
		return ""
	}
	return cert.Path
}

func keyPath(cert *model.CreateServiceCert) string {
	if cert == nil {
		return ""
	}
	return cert.KeyPath
}
