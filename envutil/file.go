package envutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownFileType is returned when the file extension is not recognized.
var ErrUnknownFileType = errors.New("env file doesn't have a known file suffix")

// envFile is the shape of both the YAML and JSON env files:
//
//	env:
//	  ENROLL_UPLOAD_URL: https://example.com/register-face/
//	  LOG_LEVEL: debug
type envFile struct {
	Env map[string]string `json:"env" yaml:"env"`
}

// LoadEnvFile reads a .yml, .yaml or .json file with a top-level "env" map.
func LoadEnvFile(path string) (map[string]string, error) {
	bts, err := os.ReadFile(path) // #nosec G304 -- path is the intended file to load
	if err != nil {
		return nil, err
	}

	out := &envFile{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(bts, out)
	case ".json":
		err = json.Unmarshal(bts, out)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFileType, filepath.Base(path))
	}

	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return out.Env, nil
}

// Apply sets every variable in env in the process environment. Existing
// variables win unless override is true. It returns the number of
// variables written.
func Apply(env map[string]string, override bool) (int, error) {
	count := 0

	for key, value := range env {
		if _, exists := os.LookupEnv(key); exists && !override {
			continue
		}

		if err := os.Setenv(key, value); err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}
