package state

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedDefaults copies key/value pairs from a YAML (or JSON) map file into
// store for keys that are not set yet. Existing values are never touched.
// A missing file seeds nothing.
func SeedDefaults(ctx context.Context, store Store, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var defaults map[string]string
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return 0, fmt.Errorf("defaults %s: %w", path, err)
	}
	missing := make(map[string]string)
	for k, v := range defaults {
		_, ok, err := store.Get(ctx, k)
		if err != nil {
			return 0, err
		}
		if !ok {
			missing[k] = v
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := store.SetMany(ctx, missing); err != nil {
		return 0, err
	}
	return len(missing), nil
}
