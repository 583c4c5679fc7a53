// Package policy checks WPInstructions against Rego policies before they run.
//
// A policy is a Rego module whose package defines a "deny" set, a "warn"
// set, or both. Each instruction is evaluated with this input document:
//
//	{
//	  "action":  "install plugin",
//	  "options": {"plugin name": "akismet", "plugin version": "latest", ...},
//	  "line":    3,
//	  "source":  "Install plugin akismet",
//	  "path":    "/srv/www/"
//	}
//
// Deny entries stop the script with a policy error; warn entries are logged.
// Entries may be strings or objects carrying a "message" field.
//
// Policies are loaded from files, directories of .rego files, or the
// built-in set:
//
//	gate, err := policy.Load(ctx, []string{"policies/", "builtin:pinned-versions"}, logger)
//	if err != nil {
//	    return err
//	}
//	eng := engine.New(reg, engine.WithGate(gate))
//
// Built-in functions that fail at evaluation time (for example a bad
// regex) are reported as errors, so a broken policy never silently allows
// an instruction.
package policy
