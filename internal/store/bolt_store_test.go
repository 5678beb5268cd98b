package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/authgate/authgate/model"
)

func openTestStore(t *testing.T) Store {
	t.Helper()

	st, err := New("bbolt", filepath.Join(t.TempDir(), "authgate.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBoltRoundTrip(t *testing.T) {
	st := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	svc := ServiceRecord{
		Create: model.CreateService{
			Name:     "svc",
			BindHTTP: model.Addresses{"127.0.0.1:1180"},
			From:     "/svc",
			To:       "http://127.0.0.1:8080/",
		},
		CreatedAt: now,
	}
	if err := st.PutService(svc); err != nil {
		t.Fatal(err)
	}
	if err := st.PutUser(UserRecord{
		Service:   "svc",
		Username:  "uu",
		Digest:    "sha3:abc",
		CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	services, users, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 1 || services[0].Create.Name != "svc" {
		t.Fatalf("services = %+v", services)
	}
	if !services[0].CreatedAt.Equal(now) {
		t.Errorf("createdAt = %v, want %v", services[0].CreatedAt, now)
	}
	if len(users) != 1 || users[0].Digest != "sha3:abc" {
		t.Fatalf("users = %+v", users)
	}
}

func TestBoltReplaceAndDeleteUser(t *testing.T) {
	st := openTestStore(t)

	rec := UserRecord{Service: "svc", Username: "uu", Digest: "sha3:one"}
	if err := st.PutUser(rec); err != nil {
		t.Fatal(err)
	}
	rec.Digest = "sha3:two"
	if err := st.PutUser(rec); err != nil {
		t.Fatal(err)
	}

	_, users, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Digest != "sha3:two" {
		t.Fatalf("users = %+v", users)
	}

	if err := st.DeleteUser("svc", "uu"); err != nil {
		t.Fatal(err)
	}
	_, users, err = st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Fatalf("users after delete = %+v", users)
	}
}

func TestBoltDeleteServiceCascades(t *testing.T) {
	st := openTestStore(t)

	for _, name := range []string{"a", "b"} {
		if err := st.PutService(ServiceRecord{Create: model.CreateService{Name: name}}); err != nil {
			t.Fatal(err)
		}
		if err := st.PutUser(UserRecord{Service: name, Username: "uu"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := st.DeleteService("a"); err != nil {
		t.Fatal(err)
	}

	services, users, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 1 || services[0].Create.Name != "b" {
		t.Fatalf("services = %+v", services)
	}
	if len(users) != 1 || users[0].Service != "b" {
		t.Fatalf("users = %+v", users)
	}
}

func TestStoreTypes(t *testing.T) {
	if _, err := New("none", ""); err != nil {
		t.Errorf("none: %v", err)
	}
	if _, err := New("", ""); err != nil {
		t.Errorf("empty: %v", err)
	}
	if _, err := New("bbolt", ""); err == nil {
		t.Error("bbolt without a path accepted")
	}
	if _, err := New("etcd", "x"); err == nil {
		t.Error("unknown type accepted")
	}
}
