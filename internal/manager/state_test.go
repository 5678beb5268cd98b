package manager

import (
	"errors"
	"testing"
	"time"

	"github.com/authgate/authgate/model"
)

func testCreate(name, from, to string) model.CreateService {
	return model.CreateService{Name: name, From: from, To: to}
}

func TestStateAddService(t *testing.T) {
	s := newState()
	now := time.Now()

	if _, err := s.addService(testCreate("a", "/a", "http://127.0.0.1:1/"), now); err != nil {
		t.Fatal(err)
	}

	var exists *ServiceExistsError

	// Same name.
	_, err := s.addService(testCreate("a", "/other", "http://127.0.0.1:1/"), now)
	if !errors.As(err, &exists) {
		t.Fatalf("want ServiceExistsError, got %v", err)
	}

	// Nested endpoint.
	_, err = s.addService(testCreate("b", "/a/sub", "http://127.0.0.1:1/"), now)
	if !errors.As(err, &exists) {
		t.Fatalf("want ServiceExistsError for nested endpoint, got %v", err)
	}

	// Sibling endpoint is fine.
	if _, err := s.addService(testCreate("b", "/b", "http://127.0.0.1:1/"), now); err != nil {
		t.Fatal(err)
	}
	if n := s.serviceCount(); n != 2 {
		t.Errorf("serviceCount = %d, want 2", n)
	}
}

func TestStateMatchLongestPrefix(t *testing.T) {
	s := newState()
	now := time.Now()

	if _, err := s.addService(testCreate("root", "/", "http://127.0.0.1:1/"), now); err != nil {
		t.Fatal(err)
	}

	rt, ok := s.match("/anything/below")
	if !ok || rt.Service != "root" {
		t.Fatalf("match = %+v, %v", rt, ok)
	}

	if _, ok := newState().match("/nothing"); ok {
		t.Error("empty state should not match")
	}
}

func TestStateUsersAndAuthorize(t *testing.T) {
	s := newState()
	now := time.Now()

	endpoint, err := s.addService(testCreate("svc", "/svc", "http://127.0.0.1:1/"), now)
	if err != nil {
		t.Fatal(err)
	}

	digest := CredentialDigest("uu", "pp")
	if _, err := s.addUser("svc", "uu", digest, now); err != nil {
		t.Fatal(err)
	}

	var userExists *UserExistsError
	if _, err := s.addUser("svc", "uu", digest, now); !errors.As(err, &userExists) {
		t.Fatalf("want UserExistsError, got %v", err)
	}

	username, ok := s.authorize(endpoint, digest)
	if !ok || username != "uu" {
		t.Fatalf("authorize = %q, %v", username, ok)
	}
	if _, ok := s.authorize(endpoint, CredentialDigest("uu", "wrong")); ok {
		t.Error("wrong password authorized")
	}

	if err := s.removeUser("svc", "uu"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.authorize(endpoint, digest); ok {
		t.Error("removed user still authorized")
	}

	var userMissing *UserNotFoundError
	if err := s.removeUser("svc", "uu"); !errors.As(err, &userMissing) {
		t.Fatalf("want UserNotFoundError, got %v", err)
	}
}

func TestStatsCounters(t *testing.T) {
	st := newStats()
	st.Inc("/svc/a", "uu")
	st.Inc("/svc/a", "uu")
	st.Inc("/svc/b", "uu")
	st.Inc("/svc/a", "vv")

	if total := st.Total(); total != 4 {
		t.Errorf("Total = %d, want 4", total)
	}
	if n, _ := st.User("uu"); n != 3 {
		t.Errorf("User(uu) = %d, want 3", n)
	}
	endpoints, ok := st.UserEndpoints("uu")
	if !ok || endpoints["/svc/a"] != 2 || endpoints["/svc/b"] != 1 {
		t.Errorf("UserEndpoints(uu) = %v, %v", endpoints, ok)
	}

	st.ResetUser("uu")
	if n, ok := st.User("uu"); !ok || n != 0 {
		t.Errorf("after ResetUser: User(uu) = %d, %v, want 0, true", n, ok)
	}
	if n, _ := st.User("vv"); n != 1 {
		t.Errorf("User(vv) = %d, want 1", n)
	}

	if _, ok := st.User("nobody"); ok {
		t.Error("unknown user should not be tracked")
	}
}
