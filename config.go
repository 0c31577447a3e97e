package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the submission API listens on
	BindAddress string
	// MySQLDSN is the record store DSN (must include parseTime=true)
	MySQLDSN string
	// RedisAddr enables the redis poll-cycle lock when non-empty
	RedisAddr string
	// Token is the static token required by the submission API
	Token string
	// ForwardURL is the endpoint incoming messages are POSTed to
	ForwardURL string
	// ForwardToken is included in every forwarded payload
	ForwardToken string
	// PollInterval is the daemon's cycle period
	PollInterval time.Duration
	// MaxConcurrentServers bounds concurrent server sessions per cycle
	MaxConcurrentServers int
	// HTTPTimeout bounds outbound callback and forwarding requests
	HTTPTimeout time.Duration
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.MySQLDSN = "smsgw:smsgw@tcp(127.0.0.1:3306)/smsgw?parseTime=true"
		c.PollInterval = time.Minute
		c.MaxConcurrentServers = 4
		c.HTTPTimeout = 10 * time.Second
		c.LogLevel = "info"
		return nil
	}
}

// fileConfig is the YAML shape of the configuration file.
type fileConfig struct {
	BindAddress string `yaml:"bind_address"`
	MySQLDSN    string `yaml:"mysql_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	Token       string `yaml:"token"`
	Forward     struct {
		URL   string `yaml:"url"`
		Token string `yaml:"token"`
	} `yaml:"incoming_endpoint"`
	Poll struct {
		Interval             string `yaml:"interval"`
		MaxConcurrentServers int    `yaml:"max_concurrent_servers"`
	} `yaml:"poll"`
	HTTPTimeout string `yaml:"http_timeout"`
	LogLevel    string `yaml:"log_level"`
}

// WithFile loads configuration from a YAML file. An empty path is skipped
// so the flag can stay optional.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}

		var f fileConfig
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}

		if f.BindAddress != "" {
			c.BindAddress = f.BindAddress
		}
		if f.MySQLDSN != "" {
			c.MySQLDSN = f.MySQLDSN
		}
		if f.RedisAddr != "" {
			c.RedisAddr = f.RedisAddr
		}
		if f.Token != "" {
			c.Token = f.Token
		}
		if f.Forward.URL != "" {
			c.ForwardURL = f.Forward.URL
		}
		if f.Forward.Token != "" {
			c.ForwardToken = f.Forward.Token
		}
		if f.Poll.Interval != "" {
			d, err := time.ParseDuration(f.Poll.Interval)
			if err != nil {
				return fmt.Errorf("parse poll interval: %w", err)
			}
			c.PollInterval = d
		}
		if f.Poll.MaxConcurrentServers != 0 {
			c.MaxConcurrentServers = f.Poll.MaxConcurrentServers
		}
		if f.HTTPTimeout != "" {
			d, err := time.ParseDuration(f.HTTPTimeout)
			if err != nil {
				return fmt.Errorf("parse http timeout: %w", err)
			}
			c.HTTPTimeout = d
		}
		if f.LogLevel != "" {
			c.LogLevel = f.LogLevel
		}

		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
			c.MySQLDSN = dsn
		}

		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			c.RedisAddr = addr
		}

		if token := os.Getenv("API_TOKEN"); token != "" {
			c.Token = token
		}

		if url := os.Getenv("FORWARD_URL"); url != "" {
			c.ForwardURL = url
		}

		if token := os.Getenv("FORWARD_TOKEN"); token != "" {
			c.ForwardToken = token
		}

		if interval := os.Getenv("POLL_INTERVAL"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil {
				c.PollInterval = d
			}
		}

		if n := os.Getenv("MAX_CONCURRENT_SERVERS"); n != "" {
			if v, err := strconv.Atoi(n); err == nil {
				c.MaxConcurrentServers = v
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "mysql-dsn":
				c.MySQLDSN = f.Value.String()
			case "redis-addr":
				c.RedisAddr = f.Value.String()
			case "token":
				c.Token = f.Value.String()
			case "poll-interval":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.PollInterval = d
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			}

		})
		return nil
	}

}
