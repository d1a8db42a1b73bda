// Package config loads the process configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"ovndbsync/pkg/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OVNDBSYNC_"

// LookupFunc resolves an environment variable, as os.LookupEnv does.
type LookupFunc func(key string) (string, bool)

// Load reads path (optional when empty), applies environment overrides and
// fills defaults. The result is not validated; callers apply their own flag
// overrides first and then call core.ValidateConfig.
func Load(path string, lookup LookupFunc) (*core.Config, error) {
	cfg := &core.Config{}
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: config file %s does not exist", core.ErrInvalidConfig, path)
			}
			return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidConfig, path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, fmt.Errorf("%w: unknown keys in %s: %s", core.ErrInvalidConfig, path, strings.Join(keys, ", "))
		}
	}
	if lookup != nil {
		if err := applyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	core.DefaultConfig(cfg)
	return cfg, nil
}

// Parse decodes TOML text. It is Load without the file system.
func Parse(data string, lookup LookupFunc) (*core.Config, error) {
	cfg := &core.Config{}
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
	}
	if lookup != nil {
		if err := applyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	core.DefaultConfig(cfg)
	return cfg, nil
}

func applyEnv(cfg *core.Config, lookup LookupFunc) error {
	strs := map[string]*string{
		"NB_CONNECTION":   &cfg.OVN.NBConnection,
		"NB_PRIVATE_KEY":  &cfg.OVN.NBPrivateKey,
		"NB_CERTIFICATE":  &cfg.OVN.NBCertificate,
		"NB_CA_CERT":      &cfg.OVN.NBCACert,
		"SB_CONNECTION":   &cfg.OVN.SBConnection,
		"SB_PRIVATE_KEY":  &cfg.OVN.SBPrivateKey,
		"SB_CERTIFICATE":  &cfg.OVN.SBCertificate,
		"SB_CA_CERT":      &cfg.OVN.SBCACert,
		"LOCK_NAME":       &cfg.OVN.LockName,
		"SYNC_MODE":       &cfg.Sync.Mode,
		"API_URL":         &cfg.Host.APIURL,
		"TOKEN":           &cfg.Host.Token,
		"SNAPSHOT_FILE":   &cfg.Host.SnapshotFile,
		"METRICS_ADDRESS": &cfg.Metrics.Address,
	}
	for name, field := range strs {
		if value, ok := lookup(EnvPrefix + name); ok {
			*field = strings.TrimSpace(value)
		}
	}

	durations := map[string]*time.Duration{
		"WAIT_TIMEOUT":    &cfg.OVN.WaitTimeout.Duration,
		"REQUEST_TIMEOUT": &cfg.Host.RequestTimeout.Duration,
	}
	for name, field := range durations {
		value, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", core.ErrInvalidConfig, EnvPrefix, name, err)
		}
		*field = parsed
	}

	if value, ok := lookup(EnvPrefix + "MECHANISM_DRIVERS"); ok {
		cfg.Host.MechanismDrivers = splitList(value)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
