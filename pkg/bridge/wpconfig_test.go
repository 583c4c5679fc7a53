package bridge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `<?php
// ** Database settings ** //
define( 'DB_NAME', 'database_name_here' );
define( 'DB_USER', 'username_here' );
define( 'DB_PASSWORD', 'password_here' );
define( 'DB_HOST', 'localhost' );

$table_prefix = 'wp_';

define( 'WP_DEBUG', false );

/* That's all, stop editing! Happy publishing. */

if ( ! defined( 'ABSPATH' ) ) {
	define( 'ABSPATH', __DIR__ . '/' );
}

require_once ABSPATH . 'wp-settings.php';
`

func TestParseConfig(t *testing.T) {
	src := sampleConfig + "define(\"AUTH_KEY\", \"a)b'c\"); // keys\ndefine( 'QUOTED', 'it\\'s' );\n" +
		"define('LOGGED_IN_SALT', 'p);x');\ndefine( \"NONCE_KEY\", \"a\\\");b\" );\n"
	cfg := parseConfig("wp-config.php", src)

	want := map[string]string{
		"DB_NAME":        "database_name_here",
		"DB_HOST":        "localhost",
		"WP_DEBUG":       "false",
		"ABSPATH":        "__DIR__ . '/'",
		"AUTH_KEY":       "a)b'c",
		"QUOTED":         "it's",
		"LOGGED_IN_SALT": "p);x",
		"NONCE_KEY":      `a");b`,
		"DB_PASSWORD":    "password_here",
	}
	for name, value := range want {
		if got := cfg.Get(name); got != value {
			t.Errorf("Get(%q) = %q, want %q", name, got, value)
		}
	}
	if cfg.TablePrefix != "wp_" {
		t.Errorf("TablePrefix = %q", cfg.TablePrefix)
	}
	if cfg.Bool("WP_DEBUG") {
		t.Error("Bool(WP_DEBUG) = true")
	}
}

func TestPHPLiteral(t *testing.T) {
	tests := map[string]string{
		"true":      "true",
		"FALSE":     "false",
		"1":         "1",
		"-42":       "-42",
		"localhost": "'localhost'",
		"it's":      `'it\'s'`,
		`c:\path`:   `'c:\\path'`,
		"":          "''",
	}
	for in, want := range tests {
		if got := phpLiteral(in); got != want {
			t.Errorf("phpLiteral(%q) = %s, want %s", in, got, want)
		}
		if in != "" && in != "FALSE" && phpValue(phpLiteral(in)) != in {
			t.Errorf("phpValue(phpLiteral(%q)) does not round trip", in)
		}
	}
}

func TestApplyConstants(t *testing.T) {
	out := applyConstants(sampleConfig, map[string]string{
		"DB_NAME":   "shop",
		"DB_HOST":   "db:3306",
		"MULTISITE": "true",
	})

	cfg := parseConfig("", out)
	if cfg.Get("DB_NAME") != "shop" || cfg.Get("DB_HOST") != "db:3306" || !cfg.Bool("MULTISITE") {
		t.Errorf("constants = %v", cfg.Constants)
	}
	if strings.Count(out, "'DB_NAME'") != 1 {
		t.Error("DB_NAME must be rewritten in place, not duplicated")
	}

	multisite := strings.Index(out, "define( 'MULTISITE', true );")
	marker := strings.Index(out, "That's all, stop editing")
	if multisite < 0 || multisite > marker {
		t.Errorf("MULTISITE inserted at %d, marker at %d", multisite, marker)
	}
}

func TestApplyConstantsWithoutMarker(t *testing.T) {
	out := applyConstants("<?php\nrequire_once ABSPATH . 'wp-settings.php';\n", map[string]string{"WP_DEBUG": "true"})
	if strings.Index(out, "WP_DEBUG") > strings.Index(out, "wp-settings.php") {
		t.Errorf("constant must precede wp-settings.php:\n%s", out)
	}

	out = applyConstants("<?php", map[string]string{"WP_DEBUG": "true"})
	if !strings.HasSuffix(out, "define( 'WP_DEBUG', true );\n") {
		t.Errorf("constant must be appended:\n%s", out)
	}
}

func TestWriteConstantsAndCreateFromSample(t *testing.T) {
	dir := t.TempDir()
	sample := filepath.Join(dir, SampleFile)
	if err := os.WriteFile(sample, []byte(sampleConfig), 0o600); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, ConfigFile)
	if err := CreateFromSample(dst, sample, map[string]string{"DB_NAME": "site", "DB_PASSWORD": "pw"}); err != nil {
		t.Fatalf("CreateFromSample() error = %v", err)
	}
	if err := WriteConstants(dst, map[string]string{"DB_HOST": "10.0.0.5"}); err != nil {
		t.Fatalf("WriteConstants() error = %v", err)
	}

	cfg, err := ReadConfig(dst)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Get("DB_NAME") != "site" || cfg.Get("DB_PASSWORD") != "pw" || cfg.Get("DB_HOST") != "10.0.0.5" {
		t.Errorf("constants = %v", cfg.Constants)
	}

	if err := WriteConstants(filepath.Join(dir, "missing.php"), nil); err == nil {
		t.Error("WriteConstants() expected error for missing file")
	}
}

func TestLocateConfig(t *testing.T) {
	root := t.TempDir()
	site := filepath.Join(root, "wordpress")
	if err := os.MkdirAll(site, 0o755); err != nil {
		t.Fatal(err)
	}

	if _, ok := LocateConfig(site); ok {
		t.Fatal("LocateConfig() found a config in an empty tree")
	}

	parentConfig := filepath.Join(root, ConfigFile)
	if err := os.WriteFile(parentConfig, []byte("<?php"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, ok := LocateConfig(site); !ok || got != parentConfig {
		t.Errorf("LocateConfig() = %q, %v; want parent config", got, ok)
	}

	// a parent that is itself an install does not lend its config
	if err := os.WriteFile(filepath.Join(root, SettingsFile), []byte("<?php"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := LocateConfig(site); ok {
		t.Error("LocateConfig() used the config of a parent install")
	}

	own := filepath.Join(site, ConfigFile)
	if err := os.WriteFile(own, []byte("<?php"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, ok := LocateConfig(site + "/"); !ok || got != own {
		t.Errorf("LocateConfig() = %q, %v; want own config", got, ok)
	}
}

func TestNormalizePath(t *testing.T) {
	got, err := NormalizePath("/srv/www")
	if err != nil || got != "/srv/www/" {
		t.Errorf("NormalizePath() = %q, %v", got, err)
	}
	got, err = NormalizePath("/srv/www/")
	if err != nil || got != "/srv/www/" {
		t.Errorf("NormalizePath() = %q, %v", got, err)
	}
}
