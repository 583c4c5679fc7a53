package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const testConfig = `<?php
define( 'DB_NAME', 'wordpress' );
define( 'DB_USER', 'wp' );
define( 'DB_PASSWORD', 'secret' );
define( 'DB_HOST', 'mysql' );
$table_prefix = 'wp_';
`

// fakeConnector answers for the hosts in up.
type fakeConnector struct {
	mu      sync.Mutex
	up      map[string]bool
	tables  []string
	options map[string]string
	opened  []string
	reads   int
}

func (f *fakeConnector) Open(ctx context.Context, creds Credentials) (DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, creds.Host)
	if !f.up[creds.Host] {
		return nil, errors.New("dial tcp: connection refused")
	}
	return &fakeDB{f: f}, nil
}

func (f *fakeConnector) opens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

type fakeDB struct {
	f *fakeConnector
}

func (d *fakeDB) Tables(ctx context.Context) ([]string, error) {
	return d.f.tables, nil
}

func (d *fakeDB) Option(ctx context.Context, table, name string) (string, error) {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	d.f.reads++
	return d.f.options[table+"."+name], nil
}

func (d *fakeDB) Close() error { return nil }

func installedConnector(hosts ...string) *fakeConnector {
	up := make(map[string]bool)
	for _, h := range hosts {
		up[h] = true
	}
	return &fakeConnector{
		up:     up,
		tables: []string{"wp_options", "wp_posts", "wp_users"},
		options: map[string]string{
			"wp_options.siteurl": "http://example.test",
			"wp_options.home":    "http://example.test",
		},
	}
}

func writeInstall(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SettingsFile), []byte("<?php\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if config != "" {
		if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(config), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir + string(filepath.Separator)
}

func TestLoadStatuses(t *testing.T) {
	tests := []struct {
		name      string
		path      func(t *testing.T) string
		connector *fakeConnector
		want      LoadStatus
	}{
		{
			name:      "not present",
			path:      func(t *testing.T) string { return t.TempDir() },
			connector: installedConnector("mysql"),
			want:      StatusNotPresent,
		},
		{
			name:      "no config",
			path:      func(t *testing.T) string { return writeInstall(t, "") },
			connector: installedConnector("mysql"),
			want:      StatusNoConfig,
		},
		{
			name:      "unreachable",
			path:      func(t *testing.T) string { return writeInstall(t, testConfig) },
			connector: installedConnector(),
			want:      StatusConnectivity,
		},
		{
			name: "not installed",
			path: func(t *testing.T) string { return writeInstall(t, testConfig) },
			connector: func() *fakeConnector {
				c := installedConnector("mysql")
				c.tables = []string{"other_users"}
				return c
			}(),
			want: StatusNotInstalled,
		},
		{
			name:      "ok",
			path:      func(t *testing.T) string { return writeInstall(t, testConfig) },
			connector: installedConnector("mysql"),
			want:      StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(tt.connector)
			err := w.Load(context.Background(), tt.path(t), nil)
			if got := StatusOf(err); got != tt.want {
				t.Fatalf("Load() status = %v (%v), want %v", got, err, tt.want)
			}
			if w.IsLoaded() != (tt.want == StatusOK) {
				t.Errorf("IsLoaded() = %v", w.IsLoaded())
			}
			if err != nil {
				var le *LoadError
				if !errors.As(err, &le) || le.Code() != tt.want.Code() {
					t.Errorf("error = %v, want code %s", err, tt.want.Code())
				}
			}
		})
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	c := installedConnector("mysql")
	w := New(c)
	path := writeInstall(t, testConfig)

	for i := 0; i < 2; i++ {
		if err := w.Load(context.Background(), path, nil); err != nil {
			t.Fatalf("Load() #%d error = %v", i+1, err)
		}
	}

	if c.reads != 2 {
		t.Errorf("option reads = %d, want 2 (one initialization)", c.reads)
	}
	if n := len(c.opens()); n != 2 {
		t.Errorf("opens = %d, want 2 (probe + connect)", n)
	}

	site := w.Site()
	if site == nil || site.URL != "http://example.test" || site.TablePrefix != "wp_" || site.DBHost != "mysql" {
		t.Errorf("Site() = %+v", site)
	}
}

func TestLoadConcurrentCallersInitializeOnce(t *testing.T) {
	c := installedConnector("mysql")
	w := New(c)
	path := writeInstall(t, testConfig)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Load(context.Background(), path, nil); err != nil {
				t.Errorf("Load() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if c.reads != 2 {
		t.Errorf("option reads = %d, want 2", c.reads)
	}
}

func TestLoadFallsBackToLoopback(t *testing.T) {
	c := installedConnector(LoopbackHost)
	w := New(c)

	if err := w.Load(context.Background(), writeInstall(t, testConfig), nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []string{"mysql", LoopbackHost, LoopbackHost}
	got := c.opens()
	if len(got) != len(want) {
		t.Fatalf("opens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("opens = %v, want %v", got, want)
		}
	}
	if w.Site().DBHost != LoopbackHost {
		t.Errorf("DBHost = %q, want loopback", w.Site().DBHost)
	}
}

func TestLoadSkipsProbeWithIncompleteCredentials(t *testing.T) {
	c := installedConnector(LoopbackHost)
	w := New(c)
	cfg := "<?php\ndefine('DB_NAME','wordpress');\ndefine('DB_USER','wp');\ndefine('DB_HOST','mysql');\n$table_prefix='wp_';\n"

	err := w.Load(context.Background(), writeInstall(t, cfg), nil)
	if StatusOf(err) != StatusConnectivity {
		t.Fatalf("Load() error = %v, want connectivity", err)
	}
	if got := c.opens(); len(got) != 1 || got[0] != "mysql" {
		t.Errorf("opens = %v, want only the configured host", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	c := installedConnector("db.override")
	w := New(c)

	err := w.Load(context.Background(), writeInstall(t, testConfig), map[string]string{"DB_HOST": "db.override"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := c.opens(); got[0] != "db.override" {
		t.Errorf("first open = %q, want override host", got[0])
	}
}

func TestLoadMultisite(t *testing.T) {
	cfg := testConfig + "define( 'MULTISITE', true );\ndefine( 'SUBDOMAIN_INSTALL', false );\ndefine( 'DOMAIN_CURRENT_SITE', 'example.test' );\ndefine( 'PATH_CURRENT_SITE', '/' );\n"
	w := New(installedConnector("mysql"))
	if err := w.Load(context.Background(), writeInstall(t, cfg), nil); err != nil {
		t.Fatal(err)
	}

	site := w.Site()
	if !site.Multisite || site.Subdomain {
		t.Errorf("site = %+v", site)
	}
	if site.NetworkURL() != "http://example.test/" {
		t.Errorf("NetworkURL() = %q", site.NetworkURL())
	}
}

func TestCheckLeavesBridgeUnloaded(t *testing.T) {
	c := installedConnector("mysql")
	w := New(c)
	path := writeInstall(t, testConfig)

	if err := w.Check(context.Background(), path, nil); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if w.IsLoaded() || w.Site() != nil {
		t.Error("Check() must not load the bridge")
	}
	if c.reads != 0 {
		t.Errorf("option reads = %d, want 0", c.reads)
	}

	c.tables = nil
	if err := w.Check(context.Background(), path, nil); StatusOf(err) != StatusNotInstalled {
		t.Errorf("Check() error = %v, want not installed", err)
	}
}

func TestCloseUnloads(t *testing.T) {
	w := New(installedConnector("mysql"))
	if err := w.Load(context.Background(), writeInstall(t, testConfig), nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if w.IsLoaded() {
		t.Error("IsLoaded() after Close")
	}
}

func TestMySQLAddress(t *testing.T) {
	tests := []struct {
		host    string
		network string
		addr    string
	}{
		{"", "tcp", "localhost:3306"},
		{"localhost", "tcp", "localhost:3306"},
		{"db:3307", "tcp", "db:3307"},
		{"127.0.0.1", "tcp", "127.0.0.1:3306"},
		{"localhost:/var/run/mysqld/mysqld.sock", "unix", "/var/run/mysqld/mysqld.sock"},
		{"[::1]", "tcp", "[::1]:3306"},
	}

	for _, tt := range tests {
		network, addr := mysqlAddress(tt.host)
		if network != tt.network || addr != tt.addr {
			t.Errorf("mysqlAddress(%q) = %s %s, want %s %s", tt.host, network, addr, tt.network, tt.addr)
		}
	}
}
