package database

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	apperrors "multidb-backup/internal/errors"
)

// Driver names registered with database/sql
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

// DatabaseConfig holds the parameters for connecting to a source or target database
type DatabaseConfig struct {
	Driver   string        `mapstructure:"driver" yaml:"driver"`
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"-"`
	Database string        `mapstructure:"database" yaml:"database"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var verrs apperrors.ValidationErrors

	switch dc.Driver {
	case DriverMySQL, DriverPostgres:
	default:
		verrs.Add("driver", fmt.Sprintf("unsupported driver %q", dc.Driver), dc.Driver)
	}
	if dc.Host == "" {
		verrs.Add("host", "host is required", nil)
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		verrs.Add("port", "port must be between 1 and 65535", dc.Port)
	}
	if dc.Username == "" {
		verrs.Add("username", "username is required", nil)
	}
	if dc.Database == "" {
		verrs.Add("database", "database name is required", nil)
	}

	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}

	return verrs.AsError("database configuration validation failed")
}

// DSN returns the driver-specific data source name
func (dc *DatabaseConfig) DSN() string {
	switch dc.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(dc.Username, dc.Password),
			Host:   net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port)),
			Path:   "/" + dc.Database,
		}
		q := url.Values{}
		q.Set("connect_timeout", strconv.Itoa(int(dc.Timeout.Seconds())))
		u.RawQuery = q.Encode()
		return u.String()
	default:
		cfg := mysql.NewConfig()
		cfg.User = dc.Username
		cfg.Passwd = dc.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
		cfg.DBName = dc.Database
		cfg.Timeout = dc.Timeout
		cfg.ParseTime = true
		return cfg.FormatDSN()
	}
}
