package console

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/dm-vev/powermobs/server/cmd"
)

type recordingExecutor struct {
	lines []string
}

func (e *recordingExecutor) ExecuteCommand(_ context.Context, src cmd.Source, line string) {
	e.lines = append(e.lines, line)
	o := &cmd.Output{}
	o.Printf("ran %s", line)
	src.SendCommandOutput(o)
}

func TestConsoleRunsEveryLine(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	exec := &recordingExecutor{}

	input := "blockers stats\n\n  /help  \nstatus"
	New(exec, log).WithReader(strings.NewReader(input)).Run(context.Background())

	expected := []string{"/blockers stats", "/help", "/status"}
	if !slices.Equal(exec.lines, expected) {
		t.Fatalf("expected %v, got %v", expected, exec.lines)
	}
	if !strings.Contains(buf.String(), "ran /help") {
		t.Fatalf("expected command output to be logged, got %q", buf.String())
	}
}

func TestConsoleStopsOnCancelledContext(t *testing.T) {
	exec := &recordingExecutor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	New(exec, slog.New(slog.DiscardHandler)).WithReader(strings.NewReader("help\n")).Run(ctx)
	if len(exec.lines) != 0 {
		t.Fatalf("expected no commands to run, got %v", exec.lines)
	}
}

func TestSourceLogsErrors(t *testing.T) {
	var buf bytes.Buffer
	src := NewSource(slog.New(slog.NewTextHandler(&buf, nil)))
	if !src.Console() || src.Name() != "Console" {
		t.Fatalf("unexpected source identity")
	}
	o := &cmd.Output{}
	o.Error(errors.New("no blocker registered"))
	src.SendCommandOutput(o)
	if !strings.Contains(buf.String(), "level=ERROR") || !strings.Contains(buf.String(), "no blocker registered") {
		t.Fatalf("expected error to be logged, got %q", buf.String())
	}
}
