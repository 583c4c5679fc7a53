package instruction

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Status is the outcome of running a single instruction.
type Status int

const (
	// StatusSuccess indicates the instruction completed.
	StatusSuccess Status = 0

	// StatusFailure indicates the instruction failed. The script aborts.
	StatusFailure Status = 1

	// StatusSkipped indicates the instruction had nothing to do. The script continues.
	StatusSkipped Status = 2
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Validate checks if the status is one of the known codes.
func (s Status) Validate() error {
	switch s {
	case StatusSuccess, StatusFailure, StatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid instruction status: %d", int(s))
	}
}

// RawClause is one "<subject> <verb> <object>" expression of a where clause,
// exactly as written apart from case folding of subject and verb.
type RawClause struct {
	Subject string `json:"subject"`
	Verb    string `json:"verb"`
	Object  string `json:"object"`
}

// Parsed is the result of parsing one script line.
type Parsed struct {
	// Action is the lowercased action phrase, e.g. "install plugin".
	Action string `json:"action"`

	// Clauses are the where clauses in source order.
	Clauses []RawClause `json:"clauses"`

	// Source is the line the instruction was parsed from.
	Source string `json:"source"`

	// Dropped holds clause text that matched no verb. It is informational only.
	Dropped []string `json:"dropped,omitempty"`
}

// Options maps canonical option names to values.
type Options map[string]string

// Clone returns a copy of the options. A nil receiver yields an empty map.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Keys returns the option names in sorted order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the options deterministically as `key="value"` pairs.
func (o Options) String() string {
	parts := make([]string, 0, len(o))
	for _, k := range o.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%q", k, o[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// GlobalArgs is the run-wide configuration shared by every instruction.
// It is passed by value and never modified once a run starts.
type GlobalArgs struct {
	// Path is the WordPress root, always ending in a slash.
	Path string

	// DBHost overrides DB_HOST when connecting to an existing install.
	DBHost string

	// ConfigDBHost, ConfigDBName, ConfigDBUser and ConfigDBPassword are
	// written to wp-config.php when installing WordPress.
	ConfigDBHost     string
	ConfigDBName     string
	ConfigDBUser     string
	ConfigDBPassword string

	// SiteURL and HomeURL override the urls given to "install wordpress".
	SiteURL string
	HomeURL string
}

// EnvironmentOverrides returns the wp-config constants that replace the
// values found on disk when the environment is loaded.
func (a GlobalArgs) EnvironmentOverrides() map[string]string {
	overrides := make(map[string]string)
	if a.DBHost != "" {
		overrides["DB_HOST"] = a.DBHost
	}
	return overrides
}

// ConfigConstants returns the wp-config constants requested for a fresh
// install. DB_HOST defaults to localhost.
func (a GlobalArgs) ConfigConstants() map[string]string {
	constants := map[string]string{"DB_HOST": "localhost"}
	if a.ConfigDBHost != "" {
		constants["DB_HOST"] = a.ConfigDBHost
	}
	if a.ConfigDBName != "" {
		constants["DB_NAME"] = a.ConfigDBName
	}
	if a.ConfigDBUser != "" {
		constants["DB_USER"] = a.ConfigDBUser
	}
	if a.ConfigDBPassword != "" {
		constants["DB_PASSWORD"] = a.ConfigDBPassword
	}
	return constants
}

// Type is an action handler registered under a unique action name.
type Type interface {
	// Action returns the registry key, e.g. "install plugin".
	Action() string

	// Defaults returns the options every resolution starts from.
	Defaults() Options

	// RequiresEnvironment reports whether the environment must be loaded
	// before Run is called.
	RequiresEnvironment() bool

	// CanonicalSubject maps a subject synonym to its option name.
	CanonicalSubject(subject string) string

	// CanonicalVerb maps a verb synonym to its canonical form. Only "="
	// assigns an option.
	CanonicalVerb(verb string) string

	// CanonicalObject maps an object synonym to its canonical value for the
	// given canonical option name.
	CanonicalObject(key, object string) string

	// Run executes the action. A non-nil error always means failure and
	// explains it.
	Run(ctx context.Context, opts Options, args GlobalArgs) (Status, error)
}
