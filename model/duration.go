package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time span carried over the wire as integer milliseconds.
// The zero value means "not set".
type Duration time.Duration

// Std returns the span as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Milliseconds makes a Duration from a millisecond count.
func Milliseconds(ms int64) Duration {
	return Duration(time.Duration(ms) * time.Millisecond)
}

// MarshalJSON encodes the duration as a millisecond count.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

// UnmarshalJSON accepts integer milliseconds or null.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms *int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("expected milliseconds: %w", err)
	}
	if ms == nil {
		*d = 0
		return nil
	}
	*d = Milliseconds(*ms)
	return nil
}

// UnmarshalYAML accepts integer milliseconds.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var ms int64
	if err := unmarshal(&ms); err != nil {
		return fmt.Errorf("expected milliseconds: %w", err)
	}
	*d = Milliseconds(ms)
	return nil
}

// UnmarshalTOML accepts integer milliseconds.
func (d *Duration) UnmarshalTOML(v interface{}) error {
	ms, ok := v.(int64)
	if !ok {
		return fmt.Errorf("expected milliseconds, got %T", v)
	}
	*d = Milliseconds(ms)
	return nil
}
