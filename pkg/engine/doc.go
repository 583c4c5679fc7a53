// Package engine runs wpinstructions scripts.
//
// A script is plain text with one instruction per line. Blank lines and
// lines starting with '#' are ignored. Each remaining line goes through
// the same steps, strictly in order and one at a time:
//
//  1. Prepare: parse the line, look its action up in the registry and
//     resolve the clauses into options. An unknown action aborts the run.
//  2. Gate: when a policy gate is configured it may deny the instruction.
//  3. Environment: if the instruction type needs the environment and it is
//     not loaded yet, it is loaded once. A load failure fails the
//     instruction without running it.
//  4. Run: Success continues, Skipped logs a warning and continues,
//     Failure aborts the run.
//
// Nothing is rolled back after a failure. Instructions already run keep
// their side effects.
//
// # Usage
//
//	reg := instruction.NewRegistry()
//	wordpress.RegisterAll(reg, wordpress.Deps{Runner: run, Env: wp})
//
//	eng := engine.New(reg,
//	    engine.WithEnvironment(wp),
//	    engine.WithLogger(log.Logger),
//	)
//
//	report, err := eng.Run(ctx, script, args)
//	if err != nil {
//	    // report.Steps ends with the failed instruction
//	}
//
// Errors returned by Run and Prepare are *EngineError values. Use
// IsUnknownType, IsEnvironment, IsExecution and IsPolicy to classify them.
package engine
