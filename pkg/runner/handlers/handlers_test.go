package handlers

import (
	"context"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/wpinstructions/wpinstructions/pkg/runner/protocol"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestExecHandler(t *testing.T) {
	skipOnWindows(t)

	tests := []struct {
		name       string
		params     protocol.ExecParams
		wantCode   int
		wantStdout string
		wantErr    bool
	}{
		{
			name:       "shell command",
			params:     protocol.ExecParams{Command: "echo hello"},
			wantStdout: "hello\n",
		},
		{
			name:       "program with args",
			params:     protocol.ExecParams{Command: "/bin/sh", Args: []string{"-c", "printf '%s' \"$GREETING\""}, Env: map[string]string{"GREETING": "hi"}},
			wantStdout: "hi",
		},
		{
			name:     "non-zero exit",
			params:   protocol.ExecParams{Command: "exit 3"},
			wantCode: 3,
		},
		{
			name:       "work dir",
			params:     protocol.ExecParams{Command: "pwd", WorkDir: "/"},
			wantStdout: "/\n",
		},
		{
			name:    "missing command",
			params:  protocol.ExecParams{},
			wantErr: true,
		},
		{
			name:    "missing binary",
			params:  protocol.ExecParams{Command: "/definitely/not/here", Args: []string{"x"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &ExecHandler{}
			result, err := h.Handle(context.Background(), "cmd-1", &tt.params, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if result.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", result.ExitCode, tt.wantCode)
			}
			if tt.wantStdout != "" && result.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", result.Stdout, tt.wantStdout)
			}
		})
	}
}

func TestExecHandlerStreamsLines(t *testing.T) {
	skipOnWindows(t)

	eventCh := make(chan *protocol.EventMessage, 16)
	h := &ExecHandler{}
	result, err := h.Handle(context.Background(), "cmd-7", &protocol.ExecParams{
		Command:     "echo one; echo two; echo oops 1>&2",
		StreamLines: true,
	}, eventCh)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	close(eventCh)

	var info, warn []string
	for evt := range eventCh {
		if evt.CommandID != "cmd-7" {
			t.Errorf("event command ID = %q", evt.CommandID)
		}
		switch evt.Level {
		case "info":
			info = append(info, evt.Message)
		case "warn":
			warn = append(warn, evt.Message)
		}
	}

	if !reflect.DeepEqual(info, []string{"one", "two"}) {
		t.Errorf("info events = %v", info)
	}
	if !reflect.DeepEqual(warn, []string{"oops"}) {
		t.Errorf("warn events = %v", warn)
	}
	if result.Stdout != "one\ntwo\n" || strings.TrimSpace(result.Stderr) != "oops" {
		t.Errorf("result = %+v", result)
	}
}

func TestWPArgs(t *testing.T) {
	got := WPArgs(&protocol.WPParams{
		Path:      "/srv/www/",
		Args:      []string{"plugin", "install", "akismet", "--activate"},
		AllowRoot: true,
	})
	want := []string{"plugin", "install", "akismet", "--activate", "--path=/srv/www/", "--allow-root"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("WPArgs() = %v, want %v", got, want)
	}
}

func TestWPHandlerUsesBinary(t *testing.T) {
	skipOnWindows(t)

	h := &WPHandler{}
	result, err := h.Handle(context.Background(), "cmd-2", &protocol.WPParams{
		Binary: "echo",
		Path:   "/",
		Args:   []string{"core", "version"},
	}, nil)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Stdout != "core version --path=/\n" {
		t.Errorf("Stdout = %q", result.Stdout)
	}

	if _, err := h.Handle(context.Background(), "cmd-3", &protocol.WPParams{Path: "/"}, nil); err == nil {
		t.Error("expected error for missing args")
	}
}
