package config

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed settings.cue
var settingsSchema string

// Schema checks settings documents against the embedded CUE schema.
type Schema struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewSchema compiles the embedded settings schema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()

	val := ctx.CompileString(settingsSchema, cue.Filename("settings.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile settings schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath("#Settings"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("settings schema has no #Settings definition: %w", err)
	}

	return &Schema{ctx: ctx, schema: def}, nil
}

// CheckYAML validates a YAML settings document. Errors carry the position
// of the offending value in filename.
func (s *Schema) CheckYAML(filename string, data []byte) error {
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	doc := s.ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return convertCUEErrors(err)
	}

	unified := s.schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}

	return nil
}

// convertCUEErrors flattens a CUE error into ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}

		// The document position is more useful than the schema one.
		for _, pos := range errors.Positions(e) {
			if pos.Filename() == "settings.cue" {
				continue
			}
			ve.File = pos.Filename()
			ve.Line = pos.Line()
			ve.Column = pos.Column()
			break
		}

		out = append(out, ve)
	}
	return out
}
