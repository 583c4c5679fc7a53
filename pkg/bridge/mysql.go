package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Credentials locate a WordPress database.
type Credentials struct {
	Host     string
	Name     string
	User     string
	Password string
}

// Complete reports whether every field is set.
func (c Credentials) Complete() bool {
	return c.Host != "" && c.Name != "" && c.User != "" && c.Password != ""
}

// Connector opens WordPress databases.
type Connector interface {
	// Open connects and verifies the connection.
	Open(ctx context.Context, creds Credentials) (DB, error)
}

// DB is the subset of database access the bridge and instruction types need.
type DB interface {
	// Tables lists the tables of the current database.
	Tables(ctx context.Context) ([]string, error)

	// Option reads a row of the options table. A missing option returns "".
	Option(ctx context.Context, table, name string) (string, error)

	Close() error
}

// MySQLConnector opens databases with github.com/go-sql-driver/mysql.
type MySQLConnector struct {
	// Timeout bounds dialing. Defaults to 5 seconds.
	Timeout time.Duration
}

// Open connects to the database described by creds.
func (m *MySQLConnector) Open(ctx context.Context, creds Credentials) (DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = creds.User
	cfg.Passwd = creds.Password
	cfg.DBName = creds.Name
	cfg.Net, cfg.Addr = mysqlAddress(creds.Host)
	cfg.Timeout = m.Timeout
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql config: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", creds.Host, err)
	}

	return &mysqlDB{db: db}, nil
}

// mysqlAddress maps a WordPress DB_HOST to a driver network and address.
// DB_HOST may be "host", "host:port", "host:/path/to/socket" or
// "localhost:/path/to/socket".
func mysqlAddress(host string) (network, addr string) {
	if host == "" {
		host = "localhost"
	}

	if i := strings.Index(host, ":/"); i >= 0 {
		return "unix", host[i+1:]
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return "tcp", host
	}

	return "tcp", net.JoinHostPort(strings.Trim(host, "[]"), "3306")
}

type mysqlDB struct {
	db *sql.DB
}

func (m *mysqlDB) Tables(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (m *mysqlDB) Option(ctx context.Context, table, name string) (string, error) {
	// table comes from wp-config.php, never from script input
	query := fmt.Sprintf("SELECT option_value FROM `%s` WHERE option_name = ? LIMIT 1", strings.ReplaceAll(table, "`", ""))

	var value string
	err := m.db.QueryRowContext(ctx, query, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read option %s: %w", name, err)
	}
	return value, nil
}

func (m *mysqlDB) Close() error {
	return m.db.Close()
}
