package upnpcore

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Documented defaults, named after the pupnp/compa constants they carry
// forward (see SPEC_FULL.md §10.3).
const (
	// DefaultMaxContentLength mirrors DEFAULT_SOAP_CONTENT_LENGTH: the
	// largest HTTP entity body this core will buffer before rejecting it.
	DefaultMaxContentLength = 2_000_000

	// DefaultMaxAge mirrors DEFAULT_MAXAGE: the CACHE-CONTROL max-age
	// advertised for a root device when the caller doesn't override it.
	DefaultMaxAge = 1800

	// MinSubscriptionTime mirrors MIN_SUBSCRIPTION_TIME: the floor a
	// device clamps a requested GENA TIMEOUT to.
	MinSubscriptionTime = 300

	// DefaultMaxSubscriptions bounds how many subscribers a single
	// service will accept before AcceptSubscription starts refusing.
	DefaultMaxSubscriptions = 100

	// DefaultAutoRenewBefore is how long before expiry the control-point
	// side schedules its RENEW, when the caller leaves it unset.
	DefaultAutoRenewBefore = 30 * time.Second
)

// PoolConfig holds worker pool sizing as loaded from YAML. Init does not
// read Options or PoolConfig; it starts the pool from
// workerpool.DefaultConfig.
type PoolConfig struct {
	MinThreads  int `yaml:"min_threads"`
	MaxThreads  int `yaml:"max_threads"`
	MaxJobs     int `yaml:"max_jobs_total"`
	MaxIdleTime int `yaml:"max_idle_seconds"`
}

// Options is the top-level configuration document for a CoreContext,
// grounded on config/config.go's flattened struct-plus-yaml.v3 shape.
type Options struct {
	Interface string `yaml:"interface"`
	Port      int    `yaml:"port"`

	MaxContentLength int64 `yaml:"max_content_length"`
	MaxAge           int   `yaml:"max_age"`

	WebServerRootDir string `yaml:"webserver_root_dir"`
	EnableWebserver  bool   `yaml:"enable_webserver"`

	MaxSubscriptions    int `yaml:"max_subscriptions"`
	MaxSubscriptionTime int `yaml:"max_subscription_time_seconds"`

	Pool PoolConfig `yaml:"pool"`
}

// DefaultOptions returns the zero-config starting point: loopback-free
// interface selection, an ephemeral port, and the documented defaults
// above.
func DefaultOptions() Options {
	return Options{
		MaxContentLength:    DefaultMaxContentLength,
		MaxAge:              DefaultMaxAge,
		MaxSubscriptions:    DefaultMaxSubscriptions,
		MaxSubscriptionTime: 1800,
	}
}

// LoadOptions reads and parses a YAML configuration file, starting from
// DefaultOptions so a sparse document only overrides what it mentions.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, err
	}
	return opts, nil
}
