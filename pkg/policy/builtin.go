package policy

import (
	"fmt"
	"sort"
)

var builtins = map[string]func() Policy{
	"default-credentials": defaultCredentialsPolicy,
	"pinned-versions":     pinnedVersionsPolicy,
	"trusted-sources":     trustedSourcesPolicy,
}

// BuiltinNames returns the names of the built-in policies.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns the built-in policy called name.
func Builtin(name string) (Policy, error) {
	fn, ok := builtins[name]
	if !ok {
		return Policy{}, fmt.Errorf("unknown built-in policy %q (available: %v)", name, BuiltinNames())
	}
	return fn(), nil
}

// defaultCredentialsPolicy rejects the stock admin credentials.
func defaultCredentialsPolicy() Policy {
	return Policy{
		Name:        "default-credentials",
		Description: "Denies installs and sites that keep the default admin password or email",
		Source:      "builtin",
		Rego: `package wpinstructions.builtin.default_credentials

import rego.v1

creates_admin := {"install wordpress", "add site"}

deny contains msg if {
	input.action in creates_admin
	input.options["admin password"] == "password"
	msg := sprintf("line %d: %s keeps the default admin password", [input.line, input.action])
}

warn contains msg if {
	input.action in creates_admin
	input.options["admin email"] == "test@test.com"
	msg := sprintf("line %d: %s uses the placeholder admin email", [input.line, input.action])
}
`,
	}
}

// pinnedVersionsPolicy requires explicit versions for installs.
func pinnedVersionsPolicy() Policy {
	return Policy{
		Name:        "pinned-versions",
		Description: "Denies installs that track the latest release instead of a pinned version",
		Source:      "builtin",
		Rego: `package wpinstructions.builtin.pinned_versions

import rego.v1

version_option := {
	"install wordpress": "version",
	"install plugin": "plugin version",
	"install theme": "theme version",
}

deny contains msg if {
	key := version_option[input.action]
	not from_url
	input.options[key] == "latest"
	msg := sprintf("line %d: %s must pin a version", [input.line, input.action])
}

from_url if input.options["plugin url"] != ""

from_url if input.options["theme url"] != ""
`,
	}
}

// trustedSourcesPolicy restricts where packages may be downloaded from.
func trustedSourcesPolicy() Policy {
	return Policy{
		Name:        "trusted-sources",
		Description: "Denies plugin and theme downloads over plain http",
		Source:      "builtin",
		Rego: `package wpinstructions.builtin.trusted_sources

import rego.v1

deny contains msg if {
	some key in ["plugin url", "theme url"]
	url := input.options[key]
	startswith(lower(url), "http://")
	msg := sprintf("line %d: %s downloads from an insecure url %s", [input.line, input.action, url])
}
`,
	}
}
