package repl

import (
	"fmt"

	"github.com/google/shlex"
)

// splitArgs splits a command line into words with POSIX shell quoting.
func splitArgs(line string) ([]string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("invalid quoting: %w", err)
	}
	return args, nil
}
