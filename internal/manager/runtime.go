package manager

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-zoox/cache"
	"github.com/go-zoox/core-utils/regexp"
	"github.com/go-zoox/headers"
	"github.com/go-zoox/logger"
	"golang.org/x/net/http2"

	"github.com/authgate/authgate/model"
	"github.com/authgate/authgate/proxy"
)

type contextKey string

const stateKey contextKey = "authgate.request.state"

const authRealm = `Basic realm="Service access"`

// runtimeConf carries the listener settings of one proxy runtime.
type runtimeConf struct {
	bindHTTP  model.Addresses
	bindHTTPS model.Addresses
	certPath  string
	keyPath   string

	readHeaderTimeout time.Duration
	idleTimeout       time.Duration
	maxHeaderBytes    int
	http1Only         bool
}

func (c runtimeConf) addresses() model.Addresses {
	return c.bindHTTP.Merge(c.bindHTTPS)
}

// Runtime is one set of proxy listeners and the services bound to them.
// Services sharing the same bind addresses share a runtime.
type Runtime struct {
	conf    runtimeConf
	state   *state
	stats   *Stats
	handler *proxy.Proxy

	mu         sync.Mutex
	servers    []*http.Server
	httpAddrs  model.Addresses
	httpsAddrs model.Addresses
	transports map[string]*http.Transport
	running    bool
}

func newRuntime(conf runtimeConf) *Runtime {
	r := &Runtime{
		conf:       conf,
		state:      newState(),
		stats:      newStats(),
		transports: map[string]*http.Transport{},
	}
	r.handler = r.buildProxy()
	return r
}

// buildProxy wires the request pipeline: match service, authorize, count,
// rewrite, forward.
func (r *Runtime) buildProxy() *proxy.Proxy {
	return proxy.New(&proxy.Config{
		OnContext: func(ctx context.Context) (context.Context, error) {
			return context.WithValue(ctx, stateKey, cache.New()), nil
		},
		OnRequest: func(outReq, inReq *http.Request) error {
			path := inReq.URL.Path

			rt, ok := r.state.match(path)
			if !ok {
				return proxy.NewHTTPError(http.StatusNotFound, "service not found")
			}

			hostname, _ := proxy.ParseHostPort(inReq.Host)
			if !matchServerName(rt.ServerName, hostname) {
				return proxy.NewHTTPError(http.StatusNotFound, "service not found")
			}

			_, digest, ok := extractBasicAuth(inReq.Header)
			if !ok {
				return proxy.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			username, ok := r.state.authorize(rt.Endpoint, digest)
			if !ok {
				return proxy.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			rt.Username = username

			// Per-user request counters are keyed by the full request path.
			r.stats.Inc(path, username)

			target, err := mergeTargetURL(inReq.URL, rt.Endpoint, rt.To)
			if err != nil {
				return proxy.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			outReq.URL = target
			outReq.Header.Set(headers.Host, target.Host)

			if outReq.Header.Get(headers.UserAgent) == "" {
				outReq.Header.Set(headers.UserAgent, fmt.Sprintf("authgate/%s", proxy.Version))
			}

			// The cache reads values back by reflection, so store a pointer.
			state := outReq.Context().Value(stateKey).(cache.Cache)
			if err := state.Set("route", &rt); err != nil {
				return err
			}

			logger.Infof("[%s][%s => %s://%s] %s %s", inReq.RemoteAddr, rt.Service, target.Scheme, target.Host, inReq.Method, path)
			return nil
		},
		OnResponse: func(res *http.Response, inReq *http.Request) error {
			state := res.Request.Context().Value(stateKey).(cache.Cache)
			rt := &route{}
			if err := state.Get("route", rt); err != nil {
				return err
			}

			logger.Debugf("[%s][%s] %s %s => %d", inReq.RemoteAddr, rt.Service, inReq.Method, inReq.URL.Path, res.StatusCode)
			return nil
		},
		OnError:   onProxyError,
		Transport: &serviceTransport{runtime: r},
	})
}

func matchServerName(patterns []string, hostname string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if regexp.Match(pattern, hostname) {
			return true
		}
	}
	return false
}

func onProxyError(err error, rw http.ResponseWriter, req *http.Request) {
	status := http.StatusBadGateway
	if errX, ok := err.(*proxy.HTTPError); ok {
		status = errX.Status()
	}

	if status >= http.StatusInternalServerError {
		logger.Errorf("proxy error: %s (%s %s)", err, req.Method, req.URL.Path)
	}

	if status == http.StatusUnauthorized {
		rw.Header().Set("WWW-Authenticate", authRealm)
	}
	rw.WriteHeader(status)
}

// serviceTransport picks the upstream transport of the matched service and
// applies its request timeout.
type serviceTransport struct {
	runtime *Runtime
}

func (t *serviceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	state, ok := req.Context().Value(stateKey).(cache.Cache)
	if !ok {
		return nil, fmt.Errorf("request state missing")
	}
	rt := &route{}
	if err := state.Get("route", rt); err != nil {
		return nil, err
	}

	base := t.runtime.transportFor(rt)
	if rt.RequestTimeout <= 0 {
		return base.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), time.Duration(rt.RequestTimeout)*time.Millisecond)
	res, err := base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	res.Body = &cancelBody{ReadCloser: res.Body, cancel: cancel}
	return res, nil
}

// transportFor returns the cached transport of an endpoint, creating it with
// the service's response timeout on first use.
func (r *Runtime) transportFor(rt *route) *http.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if transport, ok := r.transports[rt.Endpoint]; ok {
		return transport
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if rt.ResponseTimeout > 0 {
		transport.ResponseHeaderTimeout = time.Duration(rt.ResponseTimeout) * time.Millisecond
	}
	r.transports[rt.Endpoint] = transport
	return transport
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Start binds and serves every configured listener. The actual bound
// addresses are recorded so ":0" binds stay addressable.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return confErrorf("proxy is already running on %s", r.conf.addresses())
	}
	if r.conf.bindHTTP.Empty() && r.conf.bindHTTPS.Empty() {
		return confErrorf("no listening addresses specified")
	}

	var tlsConf *tls.Config
	if !r.conf.bindHTTPS.Empty() {
		conf, err := r.tlsConfig()
		if err != nil {
			return err
		}
		tlsConf = conf
	}

	type bound struct {
		ln  net.Listener
		srv *http.Server
	}
	var all []bound
	closeAll := func() {
		for _, b := range all {
			b.ln.Close()
		}
	}

	for _, addr := range r.conf.bindHTTP {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			closeAll()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		all = append(all, bound{ln: ln, srv: r.newServer()})
		r.httpAddrs = r.httpAddrs.Merge(model.Addresses{ln.Addr().String()})
	}

	for _, addr := range r.conf.bindHTTPS {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			closeAll()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		srv := r.newServer()
		srv.TLSConfig = tlsConf
		if !r.conf.http1Only {
			if err := http2.ConfigureServer(srv, nil); err != nil {
				closeAll()
				return fmt.Errorf("configure http2: %w", err)
			}
		}
		r.httpsAddrs = r.httpsAddrs.Merge(model.Addresses{ln.Addr().String()})
		all = append(all, bound{ln: tls.NewListener(ln, srv.TLSConfig), srv: srv})
	}

	for _, b := range all {
		r.servers = append(r.servers, b.srv)
		go func(b bound) {
			if err := b.srv.Serve(b.ln); err != nil && err != http.ErrServerClosed {
				logger.Errorf("proxy listener %s: %s", b.ln.Addr(), err)
			}
		}(b)
	}

	r.running = true
	return nil
}

func (r *Runtime) newServer() *http.Server {
	return &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: r.conf.readHeaderTimeout,
		IdleTimeout:       r.conf.idleTimeout,
		MaxHeaderBytes:    r.conf.maxHeaderBytes,
	}
}

func (r *Runtime) tlsConfig() (*tls.Config, error) {
	if r.conf.certPath == "" || r.conf.keyPath == "" {
		return nil, confErrorf("HTTPS bind %s requires a certificate and key", r.conf.bindHTTPS)
	}
	cert, err := tls.LoadX509KeyPair(r.conf.certPath, r.conf.keyPath)
	if err != nil {
		return nil, confErrorf("unable to load the certificate pair: %s", err)
	}

	conf := &tls.Config{Certificates: []tls.Certificate{cert}}
	if r.conf.http1Only {
		conf.NextProtos = []string{"http/1.1"}
	} else {
		conf.NextProtos = []string{"h2", "http/1.1"}
	}
	return conf, nil
}

// Stop shuts down every listener of the runtime.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	servers := r.servers
	r.servers = nil
	r.running = false
	r.mu.Unlock()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HTTPAddrs returns the bound plain HTTP addresses.
func (r *Runtime) HTTPAddrs() model.Addresses {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.httpAddrs
}

// HTTPSAddrs returns the bound TLS addresses.
func (r *Runtime) HTTPSAddrs() model.Addresses {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.httpsAddrs
}
