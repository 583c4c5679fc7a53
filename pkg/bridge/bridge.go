// Package bridge loads the WordPress install an instruction script works on.
//
// Loading is expensive and happens at most once per process: the bridge
// checks that WordPress files exist, reads wp-config.php without executing
// it, applies caller overrides, verifies the database answers (falling back
// to 127.0.0.1 once), verifies WordPress tables exist and finally opens a
// long-lived database handle and reads the site URLs.
package bridge

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LoopbackHost is tried when the configured database host does not answer.
const LoopbackHost = "127.0.0.1"

// Site describes a loaded WordPress install.
type Site struct {
	Path        string
	ConfigFile  string
	TablePrefix string
	DBHost      string

	// URL and Home are the siteurl and home options.
	URL  string
	Home string

	Multisite bool
	Subdomain bool
	// Domain and NetworkPath come from DOMAIN_CURRENT_SITE and
	// PATH_CURRENT_SITE on multisite installs.
	Domain      string
	NetworkPath string
}

// NetworkURL returns the primary network URL of a multisite install, or ""
// when the install has no DOMAIN_CURRENT_SITE.
func (s *Site) NetworkURL() string {
	if s.Domain == "" {
		return ""
	}
	raw := s.Domain + s.NetworkPath
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.String()
}

// WordPress is the environment bridge. The zero value is not usable; use New.
type WordPress struct {
	connector Connector
	logger    zerolog.Logger

	mu     sync.Mutex
	loaded bool
	site   *Site
	db     DB
}

// Option configures a WordPress bridge.
type Option func(*WordPress)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *WordPress) {
		w.logger = l
	}
}

// New creates an unloaded bridge that reaches databases through connector.
func New(connector Connector, opts ...Option) *WordPress {
	w := &WordPress{
		connector: connector,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "bridge").Logger()
	return w
}

// IsLoaded reports whether Load has succeeded.
func (w *WordPress) IsLoaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loaded
}

// Site returns the loaded site, or nil before Load succeeded.
func (w *WordPress) Site() *Site {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.site == nil {
		return nil
	}
	site := *w.site
	return &site
}

// Load bootstraps the install at path. overrides replace wp-config.php
// constants such as DB_HOST. A loaded bridge returns nil immediately. The
// whole call holds the bridge lock, so concurrent callers initialize once.
func (w *WordPress) Load(ctx context.Context, path string, overrides map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.loaded {
		return nil
	}

	conn, err := w.connect(ctx, path, overrides)
	if err != nil {
		return err
	}

	site, err := w.initialize(ctx, path, conn)
	if err != nil {
		conn.db.Close()
		return err
	}

	w.db = conn.db
	w.site = site
	w.loaded = true

	w.logger.Info().
		Str("path", path).
		Str("site_url", site.URL).
		Bool("multisite", site.Multisite).
		Msg("WordPress loaded")

	return nil
}

// Check runs every Load step except initialization and leaves the bridge
// unloaded. It returns the same *LoadError values as Load, which lets a
// caller tell an empty database (StatusNotInstalled) from other failures.
func (w *WordPress) Check(ctx context.Context, path string, overrides map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	conn, err := w.connect(ctx, path, overrides)
	if err != nil {
		return err
	}
	return conn.db.Close()
}

// Close releases the database handle and marks the bridge unloaded.
func (w *WordPress) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.loaded = false
	w.site = nil
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}

type connection struct {
	config *Config
	creds  Credentials
	db     DB
}

func (w *WordPress) connect(ctx context.Context, path string, overrides map[string]string) (*connection, error) {
	log := w.logger.With().Str("path", path).Logger()

	if !IsPresent(path) {
		log.Error().Msg("This is not a WordPress install")
		return nil, &LoadError{Status: StatusNotPresent, Path: path}
	}

	file, ok := LocateConfig(path)
	if !ok {
		log.Error().Msg("No wp-config.php file present")
		return nil, &LoadError{Status: StatusNoConfig, Path: path}
	}

	cfg, err := ReadConfig(file)
	if err != nil {
		return nil, &LoadError{Status: StatusNoConfig, Path: path, Err: err}
	}

	creds := Credentials{
		Host:     cfg.Get("DB_HOST"),
		Name:     cfg.Get("DB_NAME"),
		User:     cfg.Get("DB_USER"),
		Password: cfg.Get("DB_PASSWORD"),
	}
	applyOverrides(&creds, overrides)

	if creds.Complete() {
		creds.Host = w.probeHost(ctx, log, creds)
	}

	log.Debug().Str("db_host", creds.Host).Str("db_name", creds.Name).Msg("Testing MySQL connection")
	db, err := w.connector.Open(ctx, creds)
	if err != nil {
		log.Error().Err(err).
			Str("db_host", creds.Host).
			Str("db_name", creds.Name).
			Str("db_user", creds.User).
			Msg("Could not connect to MySQL. Is your connection info correct?")
		return nil, &LoadError{Status: StatusConnectivity, Path: path, Err: err}
	}

	log.Debug().Msg("Testing if WordPress is installed")
	tables, err := db.Tables(ctx)
	if err != nil {
		db.Close()
		return nil, &LoadError{Status: StatusConnectivity, Path: path, Err: err}
	}
	if !slices.Contains(tables, cfg.TablePrefix+"users") {
		db.Close()
		log.Error().Str("table_prefix", cfg.TablePrefix).Msg("WordPress not installed")
		return nil, &LoadError{Status: StatusNotInstalled, Path: path}
	}

	return &connection{config: cfg, creds: creds, db: db}, nil
}

// probeHost returns the host to use: the configured one when it answers,
// the loopback address when only that answers, otherwise the configured one
// so the final check reports the original host.
func (w *WordPress) probeHost(ctx context.Context, log zerolog.Logger, creds Credentials) string {
	db, err := w.connector.Open(ctx, creds)
	if err == nil {
		db.Close()
		return creds.Host
	}
	if creds.Host == LoopbackHost {
		return creds.Host
	}

	fallback := creds
	fallback.Host = LoopbackHost
	db, ferr := w.connector.Open(ctx, fallback)
	if ferr != nil {
		return creds.Host
	}
	db.Close()

	log.Warn().Str("configured", creds.Host).Str("using", LoopbackHost).Err(err).Msg("Database host unreachable, using loopback")
	return LoopbackHost
}

func (w *WordPress) initialize(ctx context.Context, path string, conn *connection) (*Site, error) {
	cfg := conn.config
	site := &Site{
		Path:        path,
		ConfigFile:  cfg.File,
		TablePrefix: cfg.TablePrefix,
		DBHost:      conn.creds.Host,
		Multisite:   cfg.Bool("MULTISITE"),
		Subdomain:   cfg.Bool("SUBDOMAIN_INSTALL"),
		Domain:      cfg.Get("DOMAIN_CURRENT_SITE"),
		NetworkPath: cfg.Get("PATH_CURRENT_SITE"),
	}

	options := cfg.TablePrefix + "options"
	var err error
	if site.URL, err = conn.db.Option(ctx, options, "siteurl"); err != nil {
		return nil, &LoadError{Status: StatusConnectivity, Path: path, Err: err}
	}
	if site.Home, err = conn.db.Option(ctx, options, "home"); err != nil {
		return nil, &LoadError{Status: StatusConnectivity, Path: path, Err: err}
	}

	return site, nil
}

func applyOverrides(creds *Credentials, overrides map[string]string) {
	for name, value := range overrides {
		switch name {
		case "DB_HOST":
			creds.Host = value
		case "DB_NAME":
			creds.Name = value
		case "DB_USER":
			creds.User = value
		case "DB_PASSWORD":
			creds.Password = value
		}
	}
}

// String describes the site for logs.
func (s *Site) String() string {
	kind := "single site"
	if s.Multisite {
		kind = "multisite"
	}
	return fmt.Sprintf("%s (%s, %s)", s.URL, kind, s.Path)
}
