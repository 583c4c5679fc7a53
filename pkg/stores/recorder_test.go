package stores

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wpinstructions/wpinstructions/pkg/engine"
	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

func scriptedType(action string, status instruction.Status, err error) instruction.Type {
	return &instruction.Func{
		Descriptor: instruction.Descriptor{
			Name:           action,
			DefaultOptions: instruction.Options{"name": ""},
		},
		RunFunc: func(ctx context.Context, opts instruction.Options, args instruction.GlobalArgs) (instruction.Status, error) {
			return status, err
		},
	}
}

func TestRecorderRecordsRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	reg := instruction.NewRegistry()
	reg.Register(scriptedType("install plugin", instruction.StatusSuccess, nil))
	reg.Register(scriptedType("enable theme", instruction.StatusSkipped, nil))
	reg.Register(scriptedType("activate plugin", instruction.StatusFailure, errors.New("plugin missing")))

	eng := engine.New(reg, engine.WithObserver(NewRecorder(store, "/srv/WPInstructions", zerolog.Nop())))

	script := "install plugin where name is jetpack\nenable theme where name is astra\nactivate plugin where name is ghost\ninstall plugin where name is never\n"
	report, err := eng.Run(ctx, script, instruction.GlobalArgs{Path: "/srv/wp/"})
	if err == nil {
		t.Fatal("expected run to fail")
	}

	run, err := store.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != RunStatusFailed || run.ScriptPath != "/srv/WPInstructions" || run.WPPath != "/srv/wp/" {
		t.Errorf("run = %+v", run)
	}
	if run.Instructions != 4 {
		t.Errorf("Instructions = %d, want 4", run.Instructions)
	}
	if run.CompletedAt == nil || run.Error == nil || !strings.Contains(*run.Error, "plugin missing") {
		t.Errorf("run completion not recorded: %+v", run)
	}

	results, err := store.ListResults(ctx, report.RunID)
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	want := []ResultStatus{ResultStatusSuccess, ResultStatusSkipped, ResultStatusFailure}
	if len(results) != len(want) {
		t.Fatalf("recorded %d results, want %d", len(results), len(want))
	}
	for i, r := range results {
		if r.Status != want[i] {
			t.Errorf("results[%d].Status = %s, want %s", i, r.Status, want[i])
		}
	}
	if results[0].Options != `{"name":"jetpack"}` {
		t.Errorf("results[0].Options = %s", results[0].Options)
	}
	if results[0].Error != nil || results[2].Error == nil {
		t.Errorf("errors recorded on the wrong results")
	}
}

func TestRecorderSucceededRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	reg := instruction.NewRegistry()
	reg.Register(scriptedType("install plugin", instruction.StatusSuccess, nil))
	eng := engine.New(reg, engine.WithObserver(NewRecorder(store, "WPInstructions", zerolog.Nop())))

	report, err := eng.Run(ctx, "install plugin where name is jetpack", instruction.GlobalArgs{})
	if err != nil {
		t.Fatal(err)
	}

	run, _ := store.GetRun(ctx, report.RunID)
	if run == nil || run.Status != RunStatusSucceeded || run.Error != nil {
		t.Errorf("run = %+v", run)
	}
}

// failingStore rejects every write.
type failingStore struct {
	Store
	writes int
}

func (f *failingStore) CreateRun(context.Context, *Run) error {
	f.writes++
	return errors.New("disk full")
}

func (f *failingStore) AddResult(context.Context, *InstructionResult) error {
	f.writes++
	return errors.New("disk full")
}

func (f *failingStore) FinishRun(context.Context, string, RunStatus, time.Time, *string) error {
	f.writes++
	return errors.New("disk full")
}

func TestRecorderStoreErrorsDoNotFailRun(t *testing.T) {
	store := &failingStore{}
	reg := instruction.NewRegistry()
	reg.Register(scriptedType("install plugin", instruction.StatusSuccess, nil))
	eng := engine.New(reg, engine.WithObserver(NewRecorder(store, "WPInstructions", zerolog.Nop())))

	report, err := eng.Run(context.Background(), "install plugin where name is jetpack", instruction.GlobalArgs{})
	if err != nil || !report.Success {
		t.Fatalf("Run() = %v, %v", report, err)
	}
	if store.writes != 3 {
		t.Errorf("writes = %d, want 3", store.writes)
	}
}

func TestResultStatus(t *testing.T) {
	tests := map[instruction.Status]ResultStatus{
		instruction.StatusSuccess: ResultStatusSuccess,
		instruction.StatusFailure: ResultStatusFailure,
		instruction.StatusSkipped: ResultStatusSkipped,
		instruction.Status(9):     ResultStatusFailure,
	}
	for in, want := range tests {
		if got := resultStatus(in); got != want {
			t.Errorf("resultStatus(%d) = %s, want %s", in, got, want)
		}
	}
}
