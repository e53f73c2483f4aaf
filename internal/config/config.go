// Package config loads the process configuration from environment variables,
// the way internal/agent.LoadConfig does in the sidecar this codebase grew
// out of: explicit env var names, typed fields, defaults applied after
// reading, validation at the end.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every knob spec.md §6 names.
type Config struct {
	IsSlave bool
	Secret  string // shared internal secret, required between master and slaves

	Target       string // slave materialization root
	MasterTarget string // master materialization root

	RetryNumber int           // slave tarball fetch retry count
	RetryDelay  time.Duration // slave tarball fetch backoff

	WatchSourceInterval time.Duration // drift detector period

	APIBaseURL string // this node's externally reachable base URL
	APIMaster  string // the master's base URL, used by slaves to fetch tarballs

	TagFilter string // node-local tag_filter; empty means unfiltered

	MasterConfigInline string // inline YAML; non-empty implies standalone=true
	MasterConfigFile   string // path to a master config YAML file to watch

	MasterDispatch bool // whether slave_fetch also applies to the synthetic "master" engine

	EnvPrefixes []string // colon-separated env name prefixes exposed to templates

	GitHubSecret string // webhook HMAC shared secret
	GitHubToken  string // token used for authenticated webhook-triggered git ops, if any

	RoutePrefix string // HTTP route prefix, default "/scm"
	HTTPOnly    bool   // disables HTTPS redirect when true ("http" knob)

	ListenAddr  string
	HealthAddr  string
	MetricsAddr string

	PubSubProjectID string // broadcast bus: Google Cloud Pub/Sub project
	PubSubTopic     string // topic used for the one-way slave_fetch event

	CloneRoot string // temp root for shared/sparse git clones, master-side only

	SlaveURLs []string // comma-separated base URLs the master fans status requests out to

	Hostname string
}

// Load reads configuration from the environment, applying spec.md §6's
// documented defaults.
func Load() (*Config, error) {
	cfg := &Config{
		IsSlave:             getBool("IS_SLAVE", false),
		Secret:              os.Getenv("SECRET"),
		Target:              getString("TARGET", "/config"),
		MasterTarget:        getString("MASTER_TARGET", "/master_config"),
		RetryNumber:         getInt("RETRY_NUMBER", 3),
		RetryDelay:          getDuration("RETRY_DELAY", time.Second),
		WatchSourceInterval: getDuration("WATCH_SOURCE_INTERVAL", 60*time.Second),
		APIBaseURL:          os.Getenv("API_BASE_URL"),
		APIMaster:           os.Getenv("API_MASTER"),
		TagFilter:           os.Getenv("TAG_FILTER"),
		MasterConfigInline:  os.Getenv("MASTER_CONFIG"),
		MasterConfigFile:    os.Getenv("MASTER_CONFIG_FILE"),
		MasterDispatch:      getBool("MASTER_DISPATCH", true),
		EnvPrefixes:         splitColon(os.Getenv("ENV_PREFIXES")),
		GitHubSecret:        os.Getenv("GITHUB_SECRET"),
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		RoutePrefix:         getString("ROUTE_PREFIX", "/scm"),
		HTTPOnly:            getBool("HTTP", false),
		ListenAddr:          getString("LISTEN_ADDR", ":8080"),
		HealthAddr:          getString("HEALTH_ADDR", ":8082"),
		MetricsAddr:         getString("METRICS_ADDR", ":8083"),
		PubSubProjectID:     os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubTopic:         getString("PUBSUB_TOPIC", "shared-config-manager"),
		CloneRoot:           getString("CLONE_ROOT", "/tmp/scm-clones"),
		SlaveURLs:           splitComma(os.Getenv("SLAVE_URLS")),
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	cfg.Hostname = hostname

	if cfg.IsSlave && cfg.APIMaster == "" {
		return nil, fmt.Errorf("API_MASTER is required when IS_SLAVE=true")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("SECRET env var is required")
	}

	return cfg, nil
}

// Standalone reports whether the master config is provided inline rather
// than self-fetched from a "master" source.
func (c *Config) Standalone() bool {
	return strings.TrimSpace(c.MasterConfigInline) != ""
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	// Bare integers are interpreted as seconds, matching the Python
	// original's plain-number config knobs.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// splitColon implements env_prefixes' exact "value.split(':')" parsing from
// original_source/config.py. Safe only for bare prefixes, never for URLs.
func splitColon(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitComma parses a comma-separated list, used for knobs (like SLAVE_URLS)
// whose values are themselves URLs and so cannot use splitColon's
// colon-delimiter without ambiguity against "scheme://".
func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
