package cmd

// Source represents a source of a command execution, such as the console or
// a plugin.
type Source interface {
	// Name returns a name identifying the source in output and logs.
	Name() string
	// SendCommandOutput sends a command output to the source. The way the
	// output is applied depends on the kind of source.
	SendCommandOutput(output *Output)
}
