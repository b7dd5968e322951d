// Package toolenv assembles the environment passed to the Python helper
// scripts: an optional dotenv file overlaid with values from the config.
package toolenv

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"

	"github.com/joho/godotenv"
)

// Build reads envFile (when set) and overlays the non-empty values of vars.
// The result is sorted KEY=VALUE pairs suitable for procrun.Command.Env.
// A missing file is not an error.
func Build(envFile string, vars map[string]string) ([]string, error) {
	merged := make(map[string]string)
	if path := strings.TrimSpace(envFile); path != "" {
		values, err := godotenv.Read(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read environment file %s: %w", path, err)
		default:
			maps.Copy(merged, values)
		}
	}
	for key, value := range vars {
		if strings.TrimSpace(value) == "" {
			continue
		}
		merged[key] = value
	}
	env := make([]string, 0, len(merged))
	for _, key := range slices.Sorted(maps.Keys(merged)) {
		env = append(env, key+"="+merged[key])
	}
	return env, nil
}
