// Package stores records run history in SQLite.
//
// Every run of a script becomes a row in runs, and every executed
// instruction a row in instruction_results. The schema is applied with
// golang-migrate from embedded migrations, and the pure Go modernc.org/sqlite
// driver keeps the binary free of cgo.
//
// A Recorder adapts a Store to the engine's Observer interface so that
// history is written while a script runs:
//
//	store, _ := stores.NewSQLiteStore(stores.Config{Path: "history.db"})
//	_ = store.Init(ctx)
//	_ = store.Migrate(ctx)
//	eng := engine.New(reg, engine.WithObserver(stores.NewRecorder(store, "WPInstructions", logger)))
package stores
