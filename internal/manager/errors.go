package manager

import (
	"errors"
	"fmt"
)

// ServiceExistsError reports a name or endpoint collision between services.
type ServiceExistsError struct {
	Name     string
	Endpoint string
}

func (e *ServiceExistsError) Error() string {
	return fmt.Sprintf("service %q is already bound to %q", e.Name, e.Endpoint)
}

// ServiceNotFoundError reports an unknown service name.
type ServiceNotFoundError struct {
	Name string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service %q not found", e.Name)
}

// UserExistsError reports a duplicate username within a service.
type UserExistsError struct {
	Service  string
	Username string
}

func (e *UserExistsError) Error() string {
	return fmt.Sprintf("user %q already exists", e.Username)
}

// UserNotFoundError reports an unknown username within a service.
type UserNotFoundError struct {
	Service  string
	Username string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user %q not found", e.Username)
}

// ConfError reports an invalid or incomplete service configuration.
type ConfError struct {
	Message string
}

func (e *ConfError) Error() string {
	return "configuration error: " + e.Message
}

func confErrorf(format string, args ...interface{}) error {
	return &ConfError{Message: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err describes a name collision.
func IsConflict(err error) bool {
	var se *ServiceExistsError
	var ue *UserExistsError
	return errors.As(err, &se) || errors.As(err, &ue)
}

// IsNotFound reports whether err describes a missing entity.
func IsNotFound(err error) bool {
	var se *ServiceNotFoundError
	var ue *UserNotFoundError
	return errors.As(err, &se) || errors.As(err, &ue)
}

// IsConf reports whether err describes an invalid configuration.
func IsConf(err error) bool {
	var ce *ConfError
	return errors.As(err, &ce)
}
