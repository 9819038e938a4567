// Package ha provides high-availability primitives for running devpulse with
// multiple replicas: migration locking and Kubernetes Lease-based leader
// election. Only the leader replica runs the sync scheduler and job workers,
// so bookmark cursors are only ever advanced from one process.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// HAConfig holds configuration for high-availability features.
type HAConfig struct {
	// LeaderElectionEnabled controls whether Kubernetes Lease-based leader
	// election is active. When false, the instance behaves as the sole
	// leader (suitable for single-replica deployments).
	LeaderElectionEnabled bool

	// LeaseName is the name of the Kubernetes Lease resource.
	LeaseName string

	// LeaseNamespace is the namespace of the Lease resource.
	LeaseNamespace string

	// LeaseDuration is the duration that non-leader candidates will wait
	// before trying to acquire the lease.
	LeaseDuration time.Duration

	// RenewDeadline is the duration that the acting leader will retry
	// refreshing the lease before giving up.
	RenewDeadline time.Duration

	// RetryPeriod is the duration between leader election retries.
	RetryPeriod time.Duration

	// MigrationLockEnabled controls whether database migration locking
	// is used to prevent concurrent schema changes.
	MigrationLockEnabled bool

	// Identity is the unique identity of this instance for leader election.
	// Defaults to the pod name (from POD_NAME env var or hostname).
	Identity string
}

// DefaultHAConfig returns an HAConfig with sensible defaults.
func DefaultHAConfig() *HAConfig {
	ns := os.Getenv("POD_NAMESPACE")
	if ns == "" {
		ns = "devpulse-system"
	}
	return &HAConfig{
		LeaderElectionEnabled: false,
		LeaseName:             "devpulse-server-leader",
		LeaseNamespace:        ns,
		LeaseDuration:         15 * time.Second,
		RenewDeadline:         10 * time.Second,
		RetryPeriod:           2 * time.Second,
		MigrationLockEnabled:  true,
		Identity:              defaultIdentity(),
	}
}

// HAConfigFromEnv loads config from environment variables:
// DEVPULSE_HA_LEADER_ELECTION, DEVPULSE_HA_LEASE_NAME, DEVPULSE_HA_LEASE_NAMESPACE,
// DEVPULSE_HA_LEASE_DURATION_SECONDS, DEVPULSE_HA_MIGRATION_LOCK.
func HAConfigFromEnv() *HAConfig {
	cfg := DefaultHAConfig()

	if v := os.Getenv("DEVPULSE_HA_LEADER_ELECTION"); v != "" {
		cfg.LeaderElectionEnabled, _ = strconv.ParseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("DEVPULSE_HA_LEASE_NAME")); v != "" {
		cfg.LeaseName = v
	}
	if v := strings.TrimSpace(os.Getenv("DEVPULSE_HA_LEASE_NAMESPACE")); v != "" {
		cfg.LeaseNamespace = v
	}
	if v := os.Getenv("DEVPULSE_HA_LEASE_DURATION_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LeaseDuration = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("DEVPULSE_HA_MIGRATION_LOCK"); v != "" {
		cfg.MigrationLockEnabled, _ = strconv.ParseBool(v)
	}

	return cfg
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "devpulse-unknown"
	}
	return hostname
}
