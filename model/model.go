package model

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"time"
)

// AuthMethod is the authorization scheme required by a service.
type AuthMethod string

// AuthBasic is HTTP basic authentication, the only supported method.
const AuthBasic AuthMethod = "basic"

// Auth is the authorization configuration of a service.
type Auth struct {
	Method AuthMethod `json:"method" yaml:"method" toml:"method"`
}

// Valid reports whether the method is supported.
func (a Auth) Valid() bool {
	return a.Method == "" || a.Method == AuthBasic
}

// CreateService is a new service descriptor as submitted to the management API.
// Missing fields (bind addresses, server names, certificate paths) are filled
// in from the daemon defaults before the service is created.
type CreateService struct {
	// Name uniquely identifies the service. Generated when empty.
	Name string `json:"name" yaml:"name" toml:"name"`
	// ServerName lists the public host names the service answers to.
	ServerName Names `json:"serverName,omitempty" yaml:"serverName,omitempty" toml:"serverName,omitempty"`
	// BindHTTP is the set of plain HTTP listening addresses.
	BindHTTP Addresses `json:"bindHttp,omitempty" yaml:"bindHttp,omitempty" toml:"bindHttp,omitempty"`
	// BindHTTPS is the set of TLS listening addresses.
	BindHTTPS Addresses `json:"bindHttps,omitempty" yaml:"bindHttps,omitempty" toml:"bindHttps,omitempty"`
	// Cert configures the TLS certificate for the HTTPS listeners.
	Cert *CreateServiceCert `json:"cert,omitempty" yaml:"cert,omitempty" toml:"cert,omitempty"`
	// Auth configures the authorization scheme.
	Auth *Auth `json:"auth,omitempty" yaml:"auth,omitempty" toml:"auth,omitempty"`
	// From is the source endpoint path prefix, e.g. "/resource".
	From string `json:"from" yaml:"from" toml:"from"`
	// To is the destination URL, e.g. "http://127.0.0.1:8080".
	To string `json:"to" yaml:"to" toml:"to"`
	// RequestTimeout bounds the whole upstream exchange.
	RequestTimeout Duration `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty" toml:"requestTimeout,omitempty"`
	// ResponseTimeout bounds the wait for upstream response headers.
	ResponseTimeout Duration `json:"responseTimeout,omitempty" yaml:"responseTimeout,omitempty" toml:"responseTimeout,omitempty"`
	// CPUThreads is an advisory worker hint, clamped to >= 1.
	CPUThreads int `json:"cpuThreads,omitempty" yaml:"cpuThreads,omitempty" toml:"cpuThreads,omitempty"`
	// User carries forwarding options applied to authorized requests.
	User *CreateServiceUser `json:"user,omitempty" yaml:"user,omitempty" toml:"user,omitempty"`
}

// CreateServiceUser carries per-user request forwarding options.
type CreateServiceUser struct {
	Auth            *Auth    `json:"auth,omitempty" yaml:"auth,omitempty" toml:"auth,omitempty"`
	RequestTimeout  Duration `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty" toml:"requestTimeout,omitempty"`
	ResponseTimeout Duration `json:"responseTimeout,omitempty" yaml:"responseTimeout,omitempty" toml:"responseTimeout,omitempty"`
}

// CreateServiceCert points at the PEM certificate / key pair of a service.
// Hash is computed by the daemon and ignored on input.
type CreateServiceCert struct {
	Path    string `json:"path" yaml:"path" toml:"path"`
	KeyPath string `json:"keyPath" yaml:"keyPath" toml:"keyPath"`
	Hash    string `json:"hash,omitempty" yaml:"hash,omitempty" toml:"hash,omitempty"`
}

// Service is a registered service descriptor.
type Service struct {
	CreateService
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt" toml:"createdAt"`
}

// Equal reports whether two descriptors request the same service. The
// certificate hash is excluded since it is filled in server-side.
func (c CreateService) Equal(o CreateService) bool {
	a, b := c, o
	if a.Cert != nil {
		cert := *a.Cert
		cert.Hash = ""
		a.Cert = &cert
	}
	if b.Cert != nil {
		cert := *b.Cert
		cert.Hash = ""
		b.Cert = &cert
	}
	return reflect.DeepEqual(a, b)
}

// CreateUser is a new user descriptor.
type CreateUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// User is a registered service user. The password is never echoed back.
type User struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserStats aggregates the requests made by a single user.
type UserStats struct {
	Requests int `json:"requests"`
}

// UserEndpointStats maps endpoints to request counts for a single user.
type UserEndpointStats map[string]int

// GlobalStats aggregates counters across all services.
type GlobalStats struct {
	Users    int       `json:"users"`
	Services int       `json:"services"`
	Requests UserStats `json:"requests"`
}

// ErrorResponse is the body of every non-2xx management API response.
type ErrorResponse struct {
	Message string `json:"message"`
}

var serviceID atomic.Uint64

// NextServiceName generates a process-unique default service name.
func NextServiceName() string {
	return fmt.Sprintf("service-%d", serviceID.Add(1)-1)
}
