package policy

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that configuration documents write as a
// human-readable string ("30s", "500ms"). Bare numbers are accepted as
// milliseconds for compatibility with rows written by older tooling.
type Duration time.Duration

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v interface{}
	if err := unmarshal(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v interface{}) error {
	switch x := v.(type) {
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(x) * time.Millisecond)
	case int:
		*d = Duration(time.Duration(x) * time.Millisecond)
	case int64:
		*d = Duration(time.Duration(x) * time.Millisecond)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration value %v (%T)", v, v)
	}
	return nil
}
