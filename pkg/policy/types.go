package policy

// Severity represents the severity level of a policy result.
type Severity string

const (
	// SeverityWarning results are logged and the instruction still runs.
	SeverityWarning Severity = "warning"

	// SeverityError results deny the instruction.
	SeverityError Severity = "error"
)

// Policy is one Rego module. Its package may define a "deny" set, whose
// entries block an instruction, and a "warn" set, whose entries are only
// logged. Entries are strings or objects with a "message" field.
type Policy struct {
	// Name identifies the policy in logs and results.
	Name string `json:"name"`

	// Description is taken from the leading comment block.
	Description string `json:"description,omitempty"`

	// Source is the file the policy was read from, or "builtin".
	Source string `json:"source"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`
}

// Violation is one deny or warn entry produced by a policy.
type Violation struct {
	// Policy is the name of the policy that produced the entry.
	Policy string `json:"policy"`

	// Message is the human-readable reason.
	Message string `json:"message"`

	// Severity is error for deny entries and warning for warn entries.
	Severity Severity `json:"severity"`
}

// Decision is the outcome of checking one instruction.
type Decision struct {
	Violations []Violation `json:"violations"`
}

// Allowed reports whether no policy denied the instruction.
func (d *Decision) Allowed() bool {
	return len(d.Denials()) == 0
}

// Denials returns the messages of error-severity violations.
func (d *Decision) Denials() []string {
	return d.messages(SeverityError)
}

// Warnings returns the messages of warning-severity violations.
func (d *Decision) Warnings() []string {
	return d.messages(SeverityWarning)
}

func (d *Decision) messages(sev Severity) []string {
	var out []string
	for _, v := range d.Violations {
		if v.Severity == sev {
			out = append(out, v.Message)
		}
	}
	return out
}
