package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAddressesOneOrMany(t *testing.T) {
	var single Addresses
	if err := json.Unmarshal([]byte(`"127.0.0.1:1180"`), &single); err != nil {
		t.Fatal(err)
	}
	if single.Key() != "127.0.0.1:1180" {
		t.Errorf("single = %v", single)
	}

	var many Addresses
	if err := json.Unmarshal([]byte(`["127.0.0.1:2", "127.0.0.1:1", "127.0.0.1:2"]`), &many); err != nil {
		t.Fatal(err)
	}
	// Sorted and deduplicated.
	if many.Key() != "127.0.0.1:1,127.0.0.1:2" {
		t.Errorf("many = %v", many)
	}

	var bad Addresses
	if err := json.Unmarshal([]byte(`"no-port"`), &bad); err == nil {
		t.Error("address without port accepted")
	}
}

func TestAddressesMerge(t *testing.T) {
	a, _ := ParseAddresses("127.0.0.1:1", "127.0.0.1:2")
	b, _ := ParseAddresses("127.0.0.1:2", "127.0.0.1:3")

	merged := a.Merge(b)
	if merged.Key() != "127.0.0.1:1,127.0.0.1:2,127.0.0.1:3" {
		t.Errorf("merged = %v", merged)
	}
	// Inputs are untouched.
	if a.Key() != "127.0.0.1:1,127.0.0.1:2" {
		t.Errorf("a mutated: %v", a)
	}
}

func TestNamesContains(t *testing.T) {
	n := Names{"Example.COM", "api.example.com"}
	if !n.Contains("example.com") {
		t.Error("case-insensitive match failed")
	}
	if n.Contains("other.com") {
		t.Error("unexpected match")
	}
}

func TestDurationWireFormat(t *testing.T) {
	out, err := json.Marshal(Duration(1500 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "1500" {
		t.Errorf("marshal = %s", out)
	}

	var d Duration
	if err := json.Unmarshal([]byte("250"), &d); err != nil {
		t.Fatal(err)
	}
	if d.Std() != 250*time.Millisecond {
		t.Errorf("unmarshal = %v", d.Std())
	}

	if err := json.Unmarshal([]byte("null"), &d); err != nil {
		t.Fatal(err)
	}
	if d != 0 {
		t.Errorf("null = %v", d)
	}
}

func TestCreateServiceEqualIgnoresCertHash(t *testing.T) {
	a := CreateService{
		Name: "svc",
		From: "/",
		To:   "http://127.0.0.1:8080/",
		Cert: &CreateServiceCert{Path: "server.cert", KeyPath: "server.key", Hash: "sha3:aaa"},
	}
	b := a
	cert := *a.Cert
	cert.Hash = "sha3:bbb"
	b.Cert = &cert

	if !a.Equal(b) {
		t.Error("descriptors differing only in cert hash are not equal")
	}

	b.To = "http://127.0.0.1:9090/"
	if a.Equal(b) {
		t.Error("different destinations compare equal")
	}
}

func TestCreateServiceEqualComparesPointerFieldsByValue(t *testing.T) {
	a := CreateService{
		Name: "svc",
		From: "/",
		To:   "http://127.0.0.1:8080/",
		Cert: &CreateServiceCert{Path: "server.cert", KeyPath: "server.key"},
		Auth: &Auth{Method: AuthBasic},
		User: &CreateServiceUser{RequestTimeout: Duration(5 * time.Second)},
	}
	b := a
	b.Cert = &CreateServiceCert{Path: "server.cert", KeyPath: "server.key"}
	b.Auth = &Auth{Method: AuthBasic}
	b.User = &CreateServiceUser{RequestTimeout: Duration(5 * time.Second)}

	if !a.Equal(b) {
		t.Error("identical descriptors behind distinct pointers are not equal")
	}

	b.Auth = &Auth{Method: "digest"}
	if a.Equal(b) {
		t.Error("different auth methods compare equal")
	}
}

func TestNextServiceName(t *testing.T) {
	first := NextServiceName()
	second := NextServiceName()
	if !strings.HasPrefix(first, "service-") || first == second {
		t.Errorf("names = %q, %q", first, second)
	}
}
