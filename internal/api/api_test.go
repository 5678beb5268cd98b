package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/manager"
	"github.com/authgate/authgate/internal/store"
)

func testServer(t *testing.T) (*Server, string, chan struct{}) {
	t.Helper()

	st, err := store.New("none", "")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		ReadHeaderTimeoutSeconds: 10,
		IdleTimeoutSeconds:       60,
	}
	m := manager.New(cfg, st, zap.NewNop().Sugar())

	shutdown := make(chan struct{}, 1)
	s := New(m, zap.NewNop().Sugar(), func() {
		select {
		case shutdown <- struct{}{}:
		default:
		}
	})
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		m.Stop(ctx)
	})
	return s, "http://" + s.Addr(), shutdown
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, string) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return res, string(data)
}

func TestServiceLifecycle(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello from backend")
	}))
	defer backend.Close()

	_, base, _ := testServer(t)

	create := map[string]interface{}{
		"name":       "bor-service",
		"serverName": []string{"127.0.0.1"},
		"bindHttp":   "127.0.0.1:0",
		"from":       "/",
		"to":         backend.URL,
	}

	res, body := doJSON(t, "POST", base+"/services", create)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, body)
	}
	if got := gjson.Get(body, "name").String(); got != "bor-service" {
		t.Errorf("name = %q", got)
	}
	if !gjson.Get(body, "createdAt").Exists() {
		t.Error("createdAt missing")
	}

	// Single-address binds are accepted as strings and echoed as arrays.
	if got := gjson.Get(body, "bindHttp.0").String(); got == "" {
		t.Errorf("bindHttp = %s", gjson.Get(body, "bindHttp").Raw)
	}

	res, body = doJSON(t, "POST", base+"/services", create)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create: %d %s", res.StatusCode, body)
	}
	if gjson.Get(body, "message").String() == "" {
		t.Error("conflict response lacks a message")
	}

	res, body = doJSON(t, "GET", base+"/services", nil)
	if res.StatusCode != http.StatusOK || gjson.Get(body, "#").Int() != 1 {
		t.Fatalf("list: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, "GET", base+"/services/bor-service", nil)
	if res.StatusCode != http.StatusOK || gjson.Get(body, "from").String() != "/" {
		t.Fatalf("get: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, "GET", base+"/services/nope", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get missing: %d %s", res.StatusCode, body)
	}

	res, _ = doJSON(t, "DELETE", base+"/services/bor-service", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", res.StatusCode)
	}
	res, _ = doJSON(t, "DELETE", base+"/services/bor-service", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("delete twice: %d", res.StatusCode)
	}
}

func TestUserRoutes(t *testing.T) {
	_, base, _ := testServer(t)

	res, body := doJSON(t, "POST", base+"/services", map[string]interface{}{
		"name":     "svc",
		"bindHttp": "127.0.0.1:0",
		"from":     "/svc",
		"to":       "http://127.0.0.1:1/",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create service: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, "POST", base+"/services/svc/users", map[string]string{
		"username": "uu",
		"password": "pp",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user: %d %s", res.StatusCode, body)
	}
	if gjson.Get(body, "username").String() != "uu" {
		t.Errorf("username = %s", body)
	}
	if gjson.Get(body, "password").Exists() {
		t.Error("password echoed back")
	}

	res, body = doJSON(t, "GET", base+"/services/svc/users", nil)
	if res.StatusCode != http.StatusOK || gjson.Get(body, "0.username").String() != "uu" {
		t.Fatalf("list users: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, "GET", base+"/services/svc/users/uu/stats", nil)
	if res.StatusCode != http.StatusOK || gjson.Get(body, "requests").Int() != 0 {
		t.Fatalf("user stats: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, "GET", base+"/services/svc/users/nobody/stats", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("stats of unknown user: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, "GET", base+"/stats", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("global stats: %d %s", res.StatusCode, body)
	}
	if gjson.Get(body, "services").Int() != 1 || gjson.Get(body, "users").Int() != 1 {
		t.Errorf("global stats body: %s", body)
	}

	res, _ = doJSON(t, "DELETE", base+"/services/svc/users/uu", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete user: %d", res.StatusCode)
	}
	res, _ = doJSON(t, "DELETE", base+"/services/svc/users/uu", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("delete user twice: %d", res.StatusCode)
	}
}

func TestBadRequestBodies(t *testing.T) {
	_, base, _ := testServer(t)

	req, _ := http.NewRequest("POST", base+"/services", bytes.NewReader([]byte("{not json")))
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body: %d", res.StatusCode)
	}

	// Valid JSON, invalid descriptor.
	res2, body := doJSON(t, "POST", base+"/services", map[string]string{"name": "x"})
	if res2.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid descriptor: %d %s", res2.StatusCode, body)
	}
}

func TestShutdownRoute(t *testing.T) {
	_, base, shutdown := testServer(t)

	res, _ := doJSON(t, "POST", base+"/shutdown", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("shutdown: %d", res.StatusCode)
	}

	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}
