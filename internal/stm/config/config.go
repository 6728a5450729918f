// Package config implements process-wide configuration discovery for the STM
// runtime.
//
// Precedence, lowest to highest: built-in defaults, an optional .stmgo.json
// config file in the working directory (JSON with comments and trailing
// commas permitted), and the STMGO environment variable. The result is read
// once at startup; the runtime never re-reads configuration.
//
// STMGO holds space-separated key=value pairs, e.g.
//
//	STMGO="hints=1 readlocked=0 tablesize=1048576"
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/kolkov/lsastm/internal/stm/locktable"
)

// Config holds all runtime configuration options.
type Config struct {
	// ReadOnlyHints enables the read-only hint subsystem. Default off.
	ReadOnlyHints bool `json:"read_only_hints"`

	// ReadLocked makes reads abort on any locked slot instead of detecting
	// self-ownership. Default off.
	ReadLocked bool `json:"read_locked"`

	// TableSize is the lock-table slot count. Must be a power of two.
	TableSize int `json:"table_size"`
}

// FileName is the config file looked up in the working directory.
const FileName = ".stmgo.json"

// EnvVar is the environment variable holding key=value overrides.
const EnvVar = "STMGO"

var (
	errConfigRead      = errors.New("cannot read config file")
	errConfigInvalid   = errors.New("invalid config file")
	errTableSize       = errors.New("table_size must be a positive power of two")
	errUnknownEnvKey   = errors.New("unknown STMGO key")
	errInvalidEnvValue = errors.New("invalid STMGO value")
)

// Default returns the built-in configuration: both modes off, the default
// lock-table size.
func Default() Config {
	return Config{TableSize: locktable.DefaultSize}
}

// Load discovers configuration for the given working directory, applying the
// config file (if present) and the STMGO variable from env on top of the
// defaults. env is the process environment in os.Environ form; passing it
// explicitly keeps tests hermetic.
func Load(workDir string, env []string) (Config, error) {
	cfg := Default()

	fileCfg, loaded, err := loadFile(filepath.Join(workDir, FileName))
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = fileCfg
	}

	if raw, ok := lookupEnv(env, EnvVar); ok {
		if err := applyEnv(&cfg, raw); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration's structural constraints.
func (c Config) Validate() error {
	if c.TableSize <= 0 || c.TableSize&(c.TableSize-1) != 0 {
		return fmt.Errorf("%w: got %d", errTableSize, c.TableSize)
	}

	return nil
}

// loadFile reads and parses one config file. A missing file is not an error;
// the second return reports whether anything was loaded.
func loadFile(path string) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %v", errConfigRead, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w: %s: %v", errConfigInvalid, path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("%w: %s: %v", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// lookupEnv finds a variable in an os.Environ-style slice.
func lookupEnv(env []string, key string) (string, bool) {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, key+"="); ok {
			return after, true
		}
	}

	return "", false
}

// applyEnv applies space-separated key=value overrides onto cfg.
func applyEnv(cfg *Config, raw string) error {
	for _, pair := range strings.Fields(raw) {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: %q", errInvalidEnvValue, pair)
		}

		switch key {
		case "hints":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", errInvalidEnvValue, key, val)
			}

			cfg.ReadOnlyHints = b
		case "readlocked":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", errInvalidEnvValue, key, val)
			}

			cfg.ReadLocked = b
		case "tablesize":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", errInvalidEnvValue, key, val)
			}

			cfg.TableSize = n
		default:
			return fmt.Errorf("%w: %q", errUnknownEnvKey, key)
		}
	}

	return nil
}
