// Package client talks to the authgate management API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/authgate/authgate/model"
)

// DefaultAPIURL is where the management API listens unless configured
// otherwise.
const DefaultAPIURL = "http://127.0.0.1:6668"

// EnvAPIURL overrides the management API URL when set.
const EnvAPIURL = "AUTHGATE_API_URL"

// Error is a management API error response.
type Error struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// IsConflict reports whether the API rejected the request with 409.
func (e *Error) IsConflict() bool { return e.StatusCode == 409 }

// IsNotFound reports whether the API answered 404.
func (e *Error) IsNotFound() bool { return e.StatusCode == 404 }

// Client is a management API client.
type Client struct {
	http *resty.Client
}

// New creates a client for the given base URL. An empty URL falls back to
// the AUTHGATE_API_URL environment variable, then to DefaultAPIURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv(EnvAPIURL)
	}
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}

	c := resty.New()
	c.SetBaseURL(baseURL)
	c.SetTimeout(30 * time.Second)
	return &Client{http: c}
}

// Services lists all registered services.
func (c *Client) Services(ctx context.Context) ([]model.Service, error) {
	var out []model.Service
	return out, c.do(ctx, "GET", "/services", nil, &out)
}

// CreateService registers a new service.
func (c *Client) CreateService(ctx context.Context, create model.CreateService) (model.Service, error) {
	var out model.Service
	return out, c.do(ctx, "POST", "/services", create, &out)
}

// CreateServiceIdempotent registers a service, tolerating an identical one
// already being there. On a conflict the registered descriptor is fetched and
// compared against the requested one.
func (c *Client) CreateServiceIdempotent(ctx context.Context, create model.CreateService) (model.Service, error) {
	service, err := c.CreateService(ctx, create)
	if err == nil {
		return service, nil
	}

	apiErr, ok := err.(*Error)
	if !ok || !apiErr.IsConflict() || create.Name == "" {
		return model.Service{}, err
	}

	existing, getErr := c.Service(ctx, create.Name)
	if getErr != nil {
		return model.Service{}, err
	}
	if !existing.CreateService.Equal(create) {
		return model.Service{}, err
	}
	return existing, nil
}

// Service fetches a service by name.
func (c *Client) Service(ctx context.Context, name string) (model.Service, error) {
	var out model.Service
	return out, c.do(ctx, "GET", "/services/"+name, nil, &out)
}

// DeleteService removes a service.
func (c *Client) DeleteService(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", "/services/"+name, nil, nil)
}

// Users lists the users of a service.
func (c *Client) Users(ctx context.Context, service string) ([]model.User, error) {
	var out []model.User
	return out, c.do(ctx, "GET", "/services/"+service+"/users", nil, &out)
}

// CreateUser grants a user access to a service.
func (c *Client) CreateUser(ctx context.Context, service string, create model.CreateUser) (model.User, error) {
	var out model.User
	return out, c.do(ctx, "POST", "/services/"+service+"/users", create, &out)
}

// User fetches a single user of a service.
func (c *Client) User(ctx context.Context, service, username string) (model.User, error) {
	var out model.User
	return out, c.do(ctx, "GET", "/services/"+service+"/users/"+username, nil, &out)
}

// DeleteUser revokes a user's access.
func (c *Client) DeleteUser(ctx context.Context, service, username string) error {
	return c.do(ctx, "DELETE", "/services/"+service+"/users/"+username, nil, nil)
}

// UserStats fetches the request count of a user.
func (c *Client) UserStats(ctx context.Context, service, username string) (model.UserStats, error) {
	var out model.UserStats
	return out, c.do(ctx, "GET", "/services/"+service+"/users/"+username+"/stats", nil, &out)
}

// UserEndpointStats fetches a user's request counts broken down by path.
func (c *Client) UserEndpointStats(ctx context.Context, service, username string) (model.UserEndpointStats, error) {
	var out model.UserEndpointStats
	return out, c.do(ctx, "GET", "/services/"+service+"/users/"+username+"/endpoints/stats", nil, &out)
}

// GlobalStats fetches the daemon-wide counters.
func (c *Client) GlobalStats(ctx context.Context) (model.GlobalStats, error) {
	var out model.GlobalStats
	return out, c.do(ctx, "GET", "/stats", nil, &out)
}

// Shutdown asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, "POST", "/shutdown", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	res, err := req.Execute(method, path)
	if err != nil {
		return err
	}

	if !res.IsSuccess() {
		apiErr := &Error{
			StatusCode: res.StatusCode(),
			Method:     method,
			URL:        res.Request.URL,
			Message:    res.Status(),
		}
		var body model.ErrorResponse
		if err := json.Unmarshal(res.Body(), &body); err == nil && body.Message != "" {
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(res.Body(), out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
