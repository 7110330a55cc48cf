package task

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// runDate invokes /bin/date with safely-split args and returns the
// first line of stdout, matching spec.md §4.3a and the Python source's
// task.py _expandvars (which rewrites "date" to "/bin/date" and calls
// subprocess.check_output with no shell involved).
func runDate(args string) (string, error) {
	tokens, err := SplitShellWords(strings.Replace(args, "date", "/bin/date", 1))
	if err != nil {
		return "", fmt.Errorf("task: split date args %q: %w", args, err)
	}
	if len(tokens) == 0 {
		return "", fmt.Errorf("task: empty date invocation")
	}

	cmd := exec.Command(tokens[0], tokens[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("task: run %s: %w", tokens[0], err)
	}

	first, _, _ := strings.Cut(out.String(), "\n")
	return first, nil
}
