package model

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"
)

// Addresses is a sorted, deduplicated set of "host:port" listening addresses.
// It decodes from either a single string or an array of strings.
type Addresses []string

// ParseAddresses validates and normalizes a list of socket addresses.
func ParseAddresses(addrs ...string) (Addresses, error) {
	var a Addresses
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", addr, err)
		}
		a = append(a, addr)
	}
	a.normalize()
	return a, nil
}

func (a *Addresses) normalize() {
	sort.Strings(*a)
	out := (*a)[:0]
	var prev string
	for i, addr := range *a {
		if i == 0 || addr != prev {
			out = append(out, addr)
		}
		prev = addr
	}
	*a = out
}

// Empty reports whether no addresses are set.
func (a Addresses) Empty() bool { return len(a) == 0 }

// Ports returns the set of ports covered by the addresses.
func (a Addresses) Ports() []string {
	seen := map[string]bool{}
	var ports []string
	for _, addr := range a {
		_, port, err := net.SplitHostPort(addr)
		if err != nil || seen[port] {
			continue
		}
		seen[port] = true
		ports = append(ports, port)
	}
	return ports
}

// Key returns a stable identity for the address set, usable as a map key.
func (a Addresses) Key() string { return strings.Join(a, ",") }

func (a Addresses) String() string {
	return "[" + strings.Join(a, ", ") + "]"
}

// Merge combines two address sets.
func (a Addresses) Merge(o Addresses) Addresses {
	merged := append(append(Addresses{}, a...), o...)
	merged.normalize()
	return merged
}

// UnmarshalJSON accepts "host:port" or ["host:port", ...].
func (a *Addresses) UnmarshalJSON(data []byte) error {
	raw, err := oneOrManyJSON(data)
	if err != nil {
		return err
	}
	parsed, err := ParseAddresses(raw...)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalYAML accepts the same one-or-many forms as JSON.
func (a *Addresses) UnmarshalYAML(unmarshal func(interface{}) error) error {
	raw, err := oneOrManyYAML(unmarshal)
	if err != nil {
		return err
	}
	parsed, err := ParseAddresses(raw...)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalTOML accepts the same one-or-many forms as JSON.
func (a *Addresses) UnmarshalTOML(v interface{}) error {
	raw, err := oneOrManyValue(v)
	if err != nil {
		return err
	}
	parsed, err := ParseAddresses(raw...)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Names is a list of public host names. Like Addresses it decodes from a
// single string or an array, but entries are kept in input order.
type Names []string

// Contains reports whether name is present, ignoring case.
func (n Names) Contains(name string) bool {
	for _, v := range n {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts "name" or ["name", ...].
func (n *Names) UnmarshalJSON(data []byte) error {
	raw, err := oneOrManyJSON(data)
	if err != nil {
		return err
	}
	*n = raw
	return nil
}

// UnmarshalYAML accepts the same one-or-many forms as JSON.
func (n *Names) UnmarshalYAML(unmarshal func(interface{}) error) error {
	raw, err := oneOrManyYAML(unmarshal)
	if err != nil {
		return err
	}
	*n = raw
	return nil
}

// UnmarshalTOML accepts the same one-or-many forms as JSON.
func (n *Names) UnmarshalTOML(v interface{}) error {
	raw, err := oneOrManyValue(v)
	if err != nil {
		return err
	}
	*n = raw
	return nil
}

func oneOrManyJSON(data []byte) ([]string, error) {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return nil, fmt.Errorf("expected a string or an array of strings: %w", err)
	}
	return many, nil
}

func oneOrManyYAML(unmarshal func(interface{}) error) ([]string, error) {
	var one string
	if err := unmarshal(&one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return nil, fmt.Errorf("expected a string or an array of strings: %w", err)
	}
	return many, nil
}

func oneOrManyValue(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []interface{}:
		var out []string
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return t, nil
	default:
		return nil, fmt.Errorf("expected a string or an array of strings, got %T", v)
	}
}
