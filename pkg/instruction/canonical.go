package instruction

import (
	"context"
	"fmt"
	"strings"
)

// Assign is the canonical verb. It is the only verb that sets an option.
const Assign = "="

// Descriptor implements every part of Type except Run. Concrete types embed
// it and add their Run method.
type Descriptor struct {
	// Name is the action the type is registered under.
	Name string

	// DefaultOptions seed every resolution.
	DefaultOptions Options

	// NeedsEnvironment marks types that can only run against a loaded environment.
	NeedsEnvironment bool

	// SubjectSynonyms maps surface subjects to canonical option names.
	SubjectSynonyms map[string]string

	// ObjectSynonyms maps, per canonical option name, lowercased surface
	// objects to canonical values.
	ObjectSynonyms map[string]map[string]string
}

// Action returns the registry key.
func (d *Descriptor) Action() string {
	return d.Name
}

// Defaults returns a copy of the default options.
func (d *Descriptor) Defaults() Options {
	return d.DefaultOptions.Clone()
}

// RequiresEnvironment reports whether the environment must be loaded first.
func (d *Descriptor) RequiresEnvironment() bool {
	return d.NeedsEnvironment
}

// CanonicalSubject maps a subject through the synonym table.
func (d *Descriptor) CanonicalSubject(subject string) string {
	if canonical, ok := d.SubjectSynonyms[subject]; ok {
		return canonical
	}
	return subject
}

// CanonicalVerb maps "is", "equals" and "equal" to "=".
func (d *Descriptor) CanonicalVerb(verb string) string {
	return CanonicalVerb(verb)
}

// CanonicalObject maps an object through the synonym table of its option.
func (d *Descriptor) CanonicalObject(key, object string) string {
	if table, ok := d.ObjectSynonyms[key]; ok {
		if canonical, ok := table[strings.ToLower(object)]; ok {
			return canonical
		}
	}
	return object
}

// CanonicalVerb maps the assignment synonyms to "=" and leaves any other verb
// unchanged.
func CanonicalVerb(verb string) string {
	switch verb {
	case "is", "equals", "equal", Assign:
		return Assign
	}
	return verb
}

// Resolve merges the clauses over the type's defaults. Clauses apply in
// order, so the last assignment to an option wins. Clauses whose verb does
// not canonicalize to "=" are ignored.
func Resolve(t Type, clauses []RawClause) Options {
	opts := t.Defaults()
	if opts == nil {
		opts = Options{}
	}

	for _, clause := range clauses {
		if t.CanonicalVerb(clause.Verb) != Assign {
			continue
		}
		key := t.CanonicalSubject(clause.Subject)
		opts[key] = t.CanonicalObject(key, clause.Object)
	}

	return opts
}

// Func adapts a plain function into a Type, which is convenient for small
// actions and tests.
type Func struct {
	Descriptor
	RunFunc func(ctx context.Context, opts Options, args GlobalArgs) (Status, error)
}

// Run calls RunFunc.
func (f *Func) Run(ctx context.Context, opts Options, args GlobalArgs) (Status, error) {
	if f.RunFunc == nil {
		return StatusFailure, fmt.Errorf("action %q has no run function", f.Name)
	}
	return f.RunFunc(ctx, opts, args)
}
