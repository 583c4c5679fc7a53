// Package instruction implements the instruction language: the line parser,
// the instruction type contract with its option canonicalization, the type
// registry and the per-line Instruction lifecycle.
//
// A line has the shape
//
//	<action phrase> [where <subject> (is|equals|=) <object> [and ...]...]
//
// Parsing never fails. The first standalone "where" separates the action from
// its clauses, every standalone "and" separates clauses, and a clause without
// a recognizable verb is dropped. Resolving the clauses against a registered
// Type produces the Options the type runs with:
//
//	reg := instruction.NewRegistry()
//	reg.Register(myType)
//
//	inst := instruction.New(1, "activate plugin where name is akismet")
//	if err := inst.Prepare(reg); err != nil {
//		// errors.Is(err, instruction.ErrUnknownType)
//	}
//	status, err := inst.Run(ctx, args)
package instruction
