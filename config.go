package alwaysorigin

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/always-cache/always-origin/cache"
	"github.com/always-cache/always-origin/dispatcher"
	responsetransformer "github.com/always-cache/always-origin/pkg/response-transformer"
	"github.com/always-cache/always-origin/rfc9111"
)

type Config struct {
	// Directory the resources are served from.
	Root string `yaml:"root"`
	// Address to listen on, e.g. ":8080".
	Addr          string `yaml:"addr"`
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queueSize"`
	CacheCapacity int    `yaml:"cacheCapacity"`
	// TTL of new records. Zero makes records expire immediately.
	TTL time.Duration `yaml:"ttl"`
	// Artificial delay before fetching a resource on a cache miss.
	MissDelay time.Duration `yaml:"missDelay"`
	// "fixed" (default) or "sliding".
	ExpiryPolicy string        `yaml:"expiryPolicy"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	// Value of the Server header.
	ServerName string                    `yaml:"serverName"`
	Rules      responsetransformer.Rules `yaml:"rules"`
	// SQLite file of the access journal, in-memory if empty.
	JournalPath string `yaml:"journal"`
	// Address of the ops listener serving /metrics and /healthz, disabled if empty.
	MetricsAddr string `yaml:"metricsAddr"`
	// Limit on the request line and headers; larger requests get 431.
	MaxHeaderBytes int `yaml:"maxHeaderBytes"`
}

const (
	DefaultAddr           = ":8080"
	DefaultCacheCapacity  = 2
	DefaultReadTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultServerName     = "always-origin"
	DefaultMaxHeaderBytes = 1 << 20

	MaxMissDelay = 30 * time.Second
	MaxTTL       = 24 * time.Hour
)

func DefaultConfig() Config {
	return Config{
		Root:           ".",
		Addr:           DefaultAddr,
		Workers:        dispatcher.DefaultWorkers,
		QueueSize:      dispatcher.DefaultQueueSize,
		CacheCapacity:  DefaultCacheCapacity,
		TTL:            cache.DefaultTTL,
		ExpiryPolicy:   cache.ExpiryFixed.String(),
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		ServerName:     DefaultServerName,
		MaxHeaderBytes: DefaultMaxHeaderBytes,
	}
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(filename string) (Config, error) {
	config := DefaultConfig()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// normalize replaces invalid values with defaults and clamps the rest.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Root == "" {
		c.Root = d.Root
	}
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.Workers < 1 {
		c.Workers = d.Workers
	}
	if c.QueueSize < 1 {
		c.QueueSize = d.QueueSize
	}
	if c.CacheCapacity < 1 {
		c.CacheCapacity = d.CacheCapacity
	}
	c.TTL = clampDuration(c.TTL, 0, MaxTTL)
	c.MissDelay = clampDuration(c.MissDelay, 0, MaxMissDelay)
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ServerName == "" {
		c.ServerName = d.ServerName
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = d.MaxHeaderBytes
	}
	for _, problem := range checkRules(c.Rules) {
		log.Warn().Msg(problem)
	}
	return c
}

// checkRules reports rules whose Cache-Control values carry an unusable max-age.
func checkRules(rules responsetransformer.Rules) []string {
	var problems []string
	for i, rule := range rules {
		for _, value := range []string{rule.Override, rule.Default} {
			if value == "" {
				continue
			}
			cc := rfc9111.ParseCacheControl([]string{value})
			if !cc.HasDirective("max-age") {
				continue
			}
			if _, ok := cc.MaxAge(); !ok {
				problems = append(problems, fmt.Sprintf("rule %d: invalid max-age in %q", i, value))
			}
		}
	}
	return problems
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
