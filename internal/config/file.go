package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// LoadFile reads a TOML settings file into an option mapping suitable for New.
// Keys may sit at the top level or inside [loader], [inference] and [app]
// tables.
func LoadFile(path string) (map[string]string, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	options := make(map[string]string)
	for key, val := range raw {
		if table, ok := val.(map[string]any); ok {
			for k, v := range table {
				options[k] = fmt.Sprint(v)
			}
			continue
		}
		options[key] = fmt.Sprint(val)
	}
	return options, nil
}

// Merge overlays src onto dst and returns dst.
func Merge(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
