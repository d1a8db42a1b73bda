package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ovndbsync/pkg/ovsdb"
)

var (
	// ErrInvalidMode is returned for sync modes other than log and repair.
	ErrInvalidMode = errors.New("invalid sync mode")
	// ErrInvalidConfig is returned for unusable configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrDriverNotRegistered is returned when the host does not have the ovn mechanism driver enabled.
	ErrDriverNotRegistered = errors.New("ovn mechanism driver is not registered")
)

const (
	defaultWaitTimeout    = 15 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultMetricsAddress = ":9464"
)

// ValidateMode parses a sync mode.
func ValidateMode(mode string) (SyncMode, error) {
	switch SyncMode(strings.ToLower(strings.TrimSpace(mode))) {
	case SyncModeLog:
		return SyncModeLog, nil
	case SyncModeRepair:
		return SyncModeRepair, nil
	}
	return "", fmt.Errorf("%w: %q (expected %s or %s)", ErrInvalidMode, mode, SyncModeLog, SyncModeRepair)
}

// ValidateConfig enforces the guardrails every run depends on. Any error is
// fatal before a connection is opened.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is required", ErrInvalidConfig)
	}

	if _, err := ValidateMode(cfg.Sync.Mode); err != nil {
		return err
	}

	if err := validateConnection("ovn.nb_connection", cfg.OVN.NBConnection, cfg.OVN.NBPrivateKey, cfg.OVN.NBCertificate, cfg.OVN.NBCACert); err != nil {
		return err
	}
	if err := validateConnection("ovn.sb_connection", cfg.OVN.SBConnection, cfg.OVN.SBPrivateKey, cfg.OVN.SBCertificate, cfg.OVN.SBCACert); err != nil {
		return err
	}

	if cfg.OVN.LockName == "" {
		return fmt.Errorf("%w: ovn.lock_name is required", ErrInvalidConfig)
	}

	if cfg.OVN.WaitTimeout.Duration < time.Second {
		return fmt.Errorf("%w: ovn.wait_timeout must be >= 1s", ErrInvalidConfig)
	}

	if !containsDriver(cfg.Host.MechanismDrivers, MechanismDriverOVN) {
		return fmt.Errorf("%w: host.mechanism_drivers=%v", ErrDriverNotRegistered, cfg.Host.MechanismDrivers)
	}

	if cfg.Host.APIURL == "" && cfg.Host.SnapshotFile == "" {
		return fmt.Errorf("%w: one of host.api_url or host.snapshot_file is required", ErrInvalidConfig)
	}

	return nil
}

// DefaultConfig applies safe defaults.
func DefaultConfig(cfg *Config) {
	if cfg.Sync.Mode == "" {
		cfg.Sync.Mode = string(SyncModeLog)
	}

	if cfg.OVN.LockName == "" {
		cfg.OVN.LockName = DefaultLockName
	}

	if cfg.OVN.WaitTimeout.Duration == 0 {
		cfg.OVN.WaitTimeout.Duration = defaultWaitTimeout
	}

	if cfg.Host.RequestTimeout.Duration == 0 {
		cfg.Host.RequestTimeout.Duration = defaultRequestTimeout
	}

	if len(cfg.Host.MechanismDrivers) == 0 {
		cfg.Host.MechanismDrivers = []string{MechanismDriverOVN}
	}

	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = defaultMetricsAddress
	}
}

func validateConnection(field, connection, key, cert, ca string) error {
	if connection == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, field)
	}
	endpoints, err := ovsdb.ParseEndpoints(connection)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	if ovsdb.NeedsTLS(endpoints) && (key == "" || cert == "" || ca == "") {
		return fmt.Errorf("%w: %s uses ssl but private key, certificate or CA certificate is missing", ErrInvalidConfig, field)
	}
	return nil
}

func containsDriver(drivers []string, want string) bool {
	for _, driver := range drivers {
		if strings.EqualFold(strings.TrimSpace(driver), want) {
			return true
		}
	}
	return false
}
