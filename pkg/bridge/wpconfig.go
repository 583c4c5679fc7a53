package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Names of the files that mark a WordPress install.
const (
	SettingsFile = "wp-settings.php"
	ConfigFile   = "wp-config.php"
	SampleFile   = "wp-config-sample.php"
)

var (
	defineRe      = regexp.MustCompile(`(?m)^[ \t]*define\(\s*['"]([A-Za-z0-9_]+)['"]\s*,\s*('(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"|[^)]*?)\s*\)\s*;[^\n]*$`)
	tablePrefixRe = regexp.MustCompile(`(?m)^\s*\$table_prefix\s*=\s*['"](.*?)['"]`)
	integerRe     = regexp.MustCompile(`^-?[0-9]+$`)
)

// IsPresent reports whether path contains WordPress core files.
func IsPresent(path string) bool {
	info, err := os.Stat(filepath.Join(path, SettingsFile))
	return err == nil && !info.IsDir()
}

// LocateConfig finds the wp-config.php for the install at path. Like
// WordPress itself it also looks one directory up, unless that directory
// is another install.
func LocateConfig(path string) (string, bool) {
	candidate := filepath.Join(path, ConfigFile)
	if fileExists(candidate) {
		return candidate, true
	}

	parent := filepath.Dir(filepath.Clean(path))
	candidate = filepath.Join(parent, ConfigFile)
	if fileExists(candidate) && !fileExists(filepath.Join(parent, SettingsFile)) {
		return candidate, true
	}

	return "", false
}

// Config holds the values extracted from a wp-config.php.
type Config struct {
	// File is the path of the config file.
	File string

	// Constants maps each define() name to its value. Quoted values are
	// unquoted; other values are kept as written.
	Constants map[string]string

	// TablePrefix is the $table_prefix value, empty when not set.
	TablePrefix string
}

// Get returns a constant, or "" when undefined.
func (c *Config) Get(name string) string {
	return c.Constants[name]
}

// Bool reports whether a constant is defined as a true value.
func (c *Config) Bool(name string) bool {
	switch strings.ToLower(c.Constants[name]) {
	case "true", "1":
		return true
	default:
		return false
	}
}

// ReadConfig parses the constants and table prefix out of a wp-config.php.
// The file is never executed.
func ReadConfig(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return parseConfig(file, string(data)), nil
}

func parseConfig(file, src string) *Config {
	cfg := &Config{File: file, Constants: make(map[string]string)}

	for _, m := range defineRe.FindAllStringSubmatch(src, -1) {
		cfg.Constants[m[1]] = phpValue(m[2])
	}
	if m := tablePrefixRe.FindStringSubmatch(src); m != nil {
		cfg.TablePrefix = m[1]
	}

	return cfg
}

// phpValue turns a PHP literal into its string value.
func phpValue(literal string) string {
	if len(literal) >= 2 {
		q := literal[0]
		if (q == '\'' || q == '"') && literal[len(literal)-1] == q {
			inner := literal[1 : len(literal)-1]
			return strings.NewReplacer(`\\`, `\`, `\`+string(q), string(q)).Replace(inner)
		}
	}
	return literal
}

// phpLiteral turns a value into the PHP literal written to wp-config.php.
// Booleans and integers are written bare, everything else single-quoted.
func phpLiteral(value string) string {
	switch strings.ToLower(value) {
	case "true", "false":
		return strings.ToLower(value)
	}
	if integerRe.MatchString(value) {
		if _, err := strconv.ParseInt(value, 10, 64); err == nil {
			return value
		}
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value) + "'"
}

func defineLine(name, value string) string {
	return fmt.Sprintf("define( '%s', %s );", name, phpLiteral(value))
}

// WriteConstants sets constants in a wp-config.php. Existing define() lines
// are rewritten in place; new ones are inserted before the "stop editing"
// marker, or before wp-settings.php is required, or appended.
func WriteConstants(file string, constants map[string]string) error {
	info, err := os.Stat(file)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", file, err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	out := applyConstants(string(data), constants)

	if err := os.WriteFile(file, []byte(out), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	return nil
}

func applyConstants(src string, constants map[string]string) string {
	names := make([]string, 0, len(constants))
	for name := range constants {
		names = append(names, name)
	}
	sort.Strings(names)

	var missing []string
	for _, name := range names {
		re := regexp.MustCompile(`(?m)^[ \t]*define\(\s*['"]` + regexp.QuoteMeta(name) + `['"]\s*,.*?\)\s*;[^\n]*$`)
		if re.MatchString(src) {
			line := defineLine(name, constants[name])
			src = re.ReplaceAllLiteralString(src, line)
			continue
		}
		missing = append(missing, defineLine(name, constants[name]))
	}
	if len(missing) == 0 {
		return src
	}

	block := strings.Join(missing, "\n") + "\n"
	lines := strings.SplitAfter(src, "\n")
	for _, marker := range []string{"That's all, stop editing", SettingsFile} {
		for i, line := range lines {
			if strings.Contains(line, marker) {
				return strings.Join(lines[:i], "") + block + "\n" + strings.Join(lines[i:], "")
			}
		}
	}

	if !strings.HasSuffix(src, "\n") {
		src += "\n"
	}
	return src + block
}

// CreateFromSample writes dst from the wp-config-sample.php at sample with
// constants applied.
func CreateFromSample(dst, sample string, constants map[string]string) error {
	data, err := os.ReadFile(sample)
	if err != nil {
		return fmt.Errorf("failed to read sample config: %w", err)
	}

	if err := os.WriteFile(dst, []byte(applyConstants(string(data), constants)), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// NormalizePath returns path made absolute with a trailing separator.
func NormalizePath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if !strings.HasSuffix(abs, string(filepath.Separator)) {
		abs += string(filepath.Separator)
	}
	return abs, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
