package relation

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is an immutable snapshot of the connection parameters delivered over
// the database relation. A new snapshot is produced for every change to the
// relation data, existing snapshots are never mutated.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// Addr returns the host:port pair to dial.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate reports all missing fields at once so that a single log line tells
// the operator everything that is wrong with the published relation data.
func (c Config) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.Port == "" {
		missing = append(missing, "port")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if c.Database == "" {
		missing = append(missing, "database")
	}
	if len(missing) > 0 {
		return &InvalidConfigError{Missing: missing}
	}
	return nil
}

// InvalidConfigError reports relation data that cannot be used to open a
// database connection.
type InvalidConfigError struct {
	Missing []string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("relation data is missing required fields: %s", strings.Join(e.Missing, ", "))
}

// relationData mirrors the key-value pairs the platform writes to the relation
// data file. The modern database interface publishes endpoints/username/
// password/database, the legacy mysql interface publishes host/port/user/
// password and no database name.
type relationData struct {
	Endpoints string `yaml:"endpoints"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`

	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
}

// Load reads and parses the relation data file at path. legacyDatabase is the
// operator-configured database name used with the legacy interface, which does
// not publish one itself.
func Load(path string, legacyDatabase string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read relation data: %w", err)
	}
	return Parse(raw, legacyDatabase)
}

// Parse decodes relation data from its YAML key-value representation and
// validates the resulting config.
func Parse(raw []byte, legacyDatabase string) (Config, error) {
	var data relationData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return Config{}, fmt.Errorf("failed to parse relation data: %w", err)
	}

	var cfg Config
	if data.Endpoints != "" || data.Database != "" {
		host, port, ok := strings.Cut(data.Endpoints, ":")
		if !ok {
			return Config{}, fmt.Errorf("malformed endpoints %q: expected host:port", data.Endpoints)
		}
		cfg = Config{
			Host:     host,
			Port:     port,
			Username: data.Username,
			Password: data.Password,
			Database: data.Database,
		}
	} else {
		cfg = Config{
			Host:     data.Host,
			Port:     data.Port,
			Username: data.User,
			Password: data.Password,
			Database: legacyDatabase,
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
