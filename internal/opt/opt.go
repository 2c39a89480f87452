package opt

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// Opt is a flat mapping from option name to value. Values are strings,
// numbers, or bools. An Opt built by Merge is treated as immutable by
// everything downstream; Clone before mutating.
type Opt map[string]interface{}

// Merge combines option layers into a new Opt. Later layers override
// earlier keys on conflict. The inputs are not modified.
func Merge(layers ...Opt) Opt {
	merged := Opt{}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// Clone returns a shallow copy. Values are scalars, so a shallow copy is
// an independent Opt.
func (o Opt) Clone() Opt {
	c := make(Opt, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// Require checks that every listed key is present. A missing key after
// merging is a harness defect, not an evaluator problem.
func (o Opt) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := o[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("opt missing required keys: %v", missing)
	}
	return nil
}

// String returns the value for key as a string.
func (o Opt) String(key string) (string, error) {
	v, ok := o[key]
	if !ok {
		return "", fmt.Errorf("opt key %q not set", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("opt key %q is %T, not string", key, v)
	}
	return s, nil
}

// Int returns the value for key as an int. JSON-decoded numbers arrive as
// float64 and are accepted when integral.
func (o Opt) Int(key string) (int, error) {
	v, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("opt key %q not set", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("opt key %q is %v, not an integer", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("opt key %q is %T, not int", key, v)
	}
}

// Float returns the value for key as a float64.
func (o Opt) Float(key string) (float64, error) {
	v, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("opt key %q not set", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("opt key %q is %T, not float", key, v)
	}
}

// Bool returns the value for key as a bool.
func (o Opt) Bool(key string) (bool, error) {
	v, ok := o[key]
	if !ok {
		return false, fmt.Errorf("opt key %q not set", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("opt key %q is %T, not bool", key, v)
	}
	return b, nil
}

// BoolDefault returns the value for key, or def when the key is absent or
// not a bool.
func (o Opt) BoolDefault(key string, def bool) bool {
	b, err := o.Bool(key)
	if err != nil {
		return def
	}
	return b
}

// Load reads an Opt from a JSON file. Serialized prior-configuration
// files next to a checkpoint use this format.
func Load(path string) (Opt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read opt file: %w", err)
	}
	var o Opt
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse opt file %s: %w", path, err)
	}
	return o, nil
}

// Save writes the Opt to a JSON file.
func (o Opt) Save(path string) error {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal opt: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write opt file: %w", err)
	}
	return nil
}
