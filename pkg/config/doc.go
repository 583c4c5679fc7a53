// Package config loads the wpinstructions settings file.
//
// Settings are read from YAML (by default .wpinstructions.yaml in the
// working directory) in three steps:
//
//  1. The document is checked against an embedded CUE schema, which rejects
//     unknown keys and out-of-range values and reports their line.
//  2. It is decoded over Default() with gopkg.in/yaml.v3, so omitted keys
//     keep their defaults.
//  3. Cross-field rules (a history path when history is enabled, an
//     endpoint for the otlp exporter) are checked with validator struct tags.
//
// Command line flags override the loaded values.
//
//	loader, err := config.NewLoader()
//	if err != nil {
//	    return err
//	}
//	settings, err := loader.Load(configPath)
//	if err != nil {
//	    return err
//	}
//	args := settings.GlobalArgs()
package config
