package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	alwaysorigin "github.com/always-cache/always-origin"
)

const envPrefix = "ALWAYS_ORIGIN_"

// loadConfig layers the config sources: defaults, YAML file, .env and
// environment, then flags that were set explicitly.
func loadConfig(configFile, envFile string, flags *pflag.FlagSet) (alwaysorigin.Config, error) {
	config := alwaysorigin.DefaultConfig()
	if configFile != "" {
		var err error
		if config, err = alwaysorigin.LoadConfig(configFile); err != nil {
			return config, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}
	if envFile != "" {
		// variables already in the environment win over the file
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config, fmt.Errorf("reading %s: %w", envFile, err)
		}
	}
	if err := applyEnv(&config, os.LookupEnv); err != nil {
		return config, err
	}
	if err := applyFlags(&config, flags); err != nil {
		return config, err
	}
	return config, nil
}

func applyEnv(config *alwaysorigin.Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		if v, ok := lookup(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		if v, ok := lookup(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
		return nil
	}

	str("ROOT", &config.Root)
	str("ADDR", &config.Addr)
	str("EXPIRY_POLICY", &config.ExpiryPolicy)
	str("SERVER_NAME", &config.ServerName)
	str("JOURNAL", &config.JournalPath)
	str("METRICS_ADDR", &config.MetricsAddr)
	return errors.Join(
		num("WORKERS", &config.Workers),
		num("QUEUE_SIZE", &config.QueueSize),
		num("CACHE_CAPACITY", &config.CacheCapacity),
		num("MAX_HEADER_BYTES", &config.MaxHeaderBytes),
		dur("TTL", &config.TTL),
		dur("MISS_DELAY", &config.MissDelay),
		dur("READ_TIMEOUT", &config.ReadTimeout),
		dur("WRITE_TIMEOUT", &config.WriteTimeout),
	)
}

func applyFlags(config *alwaysorigin.Config, flags *pflag.FlagSet) error {
	var errs []error
	flags.Visit(func(f *pflag.Flag) {
		var err error
		switch f.Name {
		case "root":
			config.Root, err = flags.GetString(f.Name)
		case "addr":
			config.Addr, err = flags.GetString(f.Name)
		case "port":
			var port int
			port, err = flags.GetInt(f.Name)
			config.Addr = ":" + strconv.Itoa(port)
		case "workers":
			config.Workers, err = flags.GetInt(f.Name)
		case "queue":
			config.QueueSize, err = flags.GetInt(f.Name)
		case "capacity":
			config.CacheCapacity, err = flags.GetInt(f.Name)
		case "ttl":
			config.TTL, err = flags.GetDuration(f.Name)
		case "miss-delay":
			config.MissDelay, err = flags.GetDuration(f.Name)
		case "expiry":
			config.ExpiryPolicy, err = flags.GetString(f.Name)
		case "read-timeout":
			config.ReadTimeout, err = flags.GetDuration(f.Name)
		case "write-timeout":
			config.WriteTimeout, err = flags.GetDuration(f.Name)
		case "journal":
			config.JournalPath, err = flags.GetString(f.Name)
		case "metrics-addr":
			config.MetricsAddr, err = flags.GetString(f.Name)
		case "max-header-bytes":
			config.MaxHeaderBytes, err = flags.GetInt(f.Name)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func addServerFlags(flags *pflag.FlagSet) {
	d := alwaysorigin.DefaultConfig()
	flags.String("root", d.Root, "Directory to serve")
	flags.String("addr", d.Addr, "Address to listen on")
	flags.IntP("port", "p", 8080, "Port to listen on (overrides addr)")
	flags.Int("workers", d.Workers, "Number of worker goroutines")
	flags.Int("queue", d.QueueSize, "Connections that may wait for a worker before new ones get 503")
	flags.Int("capacity", d.CacheCapacity, "Maximum number of cached records")
	flags.Duration("ttl", d.TTL, "Freshness lifetime of cached records")
	flags.Duration("miss-delay", d.MissDelay, "Artificial delay before fetching on a cache miss")
	flags.String("expiry", d.ExpiryPolicy, "Expiry policy: fixed or sliding")
	flags.Duration("read-timeout", d.ReadTimeout, "Read timeout per request")
	flags.Duration("write-timeout", d.WriteTimeout, "Write timeout per response")
	flags.String("journal", d.JournalPath, "Access journal SQLite file (in-memory if empty)")
	flags.String("metrics-addr", d.MetricsAddr, "Address for /metrics and /healthz (disabled if empty)")
	flags.Int("max-header-bytes", d.MaxHeaderBytes, "Limit on request line and headers, larger requests get 431")
}
