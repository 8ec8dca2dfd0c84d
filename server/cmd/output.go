package cmd

import (
	"errors"
	"fmt"
)

const (
	// MessageUnknown is sent when a command that does not exist is executed.
	MessageUnknown = "Unknown command: %v. Please check that the command exists and that you have permission to use it."
	// MessagePermission is sent when a source may not run a command.
	MessagePermission = "You do not have permission to use /%v."
	// MessageUsage is sent when a command is run with invalid arguments.
	MessageUsage = "Usage: %v"
)

// Output holds the output of a command execution. It holds success messages
// and error messages, which the Source executing the command receives.
type Output struct {
	errors   []error
	messages []string
}

// Errorf formats an error message and adds it to the command output.
func (o *Output) Errorf(format string, a ...any) {
	o.errors = append(o.errors, fmt.Errorf(format, a...))
}

// Error formats an error message and adds it to the command output.
func (o *Output) Error(a ...any) {
	o.errors = append(o.errors, errors.New(fmt.Sprint(a...)))
}

// Printf formats a (success) message and adds it to the command output.
func (o *Output) Printf(format string, a ...any) {
	o.messages = append(o.messages, fmt.Sprintf(format, a...))
}

// Print formats a (success) message and adds it to the command output.
func (o *Output) Print(a ...any) {
	o.messages = append(o.messages, fmt.Sprint(a...))
}

// Errors returns a list of all errors added to the command output.
func (o *Output) Errors() []error {
	return o.errors
}

// ErrorCount returns the count of errors that the command output has.
func (o *Output) ErrorCount() int {
	return len(o.errors)
}

// Messages returns a list of all messages added to the command output.
func (o *Output) Messages() []string {
	return o.messages
}

// MessageCount returns the count of (success) messages that the command output
// has.
func (o *Output) MessageCount() int {
	return len(o.messages)
}
