package console

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dm-vev/powermobs/server/cmd"
)

// Executor runs a command line on behalf of a source and returns once the
// command has finished.
type Executor interface {
	ExecuteCommand(ctx context.Context, source cmd.Source, commandLine string)
}

// Console provides a simple CLI backed command source that reads commands from
// an io.Reader (defaulting to os.Stdin) and executes them on the provided server.
type Console struct {
	exec   Executor
	log    *slog.Logger
	reader io.Reader
}

// New returns a Console bound to the provided executor. The console reads from
// os.Stdin and writes command output to the supplied logger.
func New(exec Executor, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{
		exec:   exec,
		log:    log,
		reader: os.Stdin,
	}
}

// WithReader sets a custom reader for the console input. It enables testing the
// console without relying on os.Stdin.
func (c *Console) WithReader(r io.Reader) *Console {
	if r != nil {
		c.reader = r
	}
	return c
}

// Run starts consuming commands from the console. It blocks until the context
// is cancelled or the underlying reader reaches EOF.
func (c *Console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.reader)
	src := NewSource(c.log)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.log.Error("Console input error.", "error", err)
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			line = "/" + line
		}
		c.exec.ExecuteCommand(ctx, src, line)
	}
}

// Source is the cmd.Source of commands typed into the console. Its output is
// written to a logger.
type Source struct {
	log *slog.Logger
}

// NewSource returns a console Source logging to log.
func NewSource(log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{log: log}
}

// Name ...
func (*Source) Name() string { return "Console" }

// Console marks the source as the server console, which may run privileged
// commands.
func (*Source) Console() bool { return true }

// SendCommandOutput ...
func (c *Source) SendCommandOutput(o *cmd.Output) {
	for _, msg := range o.Messages() {
		c.log.Info(msg)
	}
	for _, err := range o.Errors() {
		c.log.Error(err.Error())
	}
}
