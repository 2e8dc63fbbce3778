package driver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

// ExpandCommand renders placeholders in a launch command.
// Supported placeholders:
//   - {name}
//   - {uid}
//   - {path}
//   - {param:KEY} (execution parameter KEY, empty when unset)
//
// Unknown placeholders are left as-is.
func ExpandCommand(command string, d *descriptor.Descriptor) string {
	path, _ := d.Lookup(descriptor.CategoryExecution, descriptor.KeyPath)
	r := strings.NewReplacer(
		"{name}", d.Identity.Name,
		"{uid}", d.Identity.UID,
		"{path}", path,
	)
	out := r.Replace(command)

	// {param:KEY}, left to right; a value is never re-expanded.
	var b strings.Builder
	for {
		i := strings.Index(out, "{param:")
		if i < 0 {
			break
		}
		j := strings.Index(out[i:], "}")
		if j < 0 {
			break
		}
		j += i
		b.WriteString(out[:i])
		b.WriteString(d.Execution[out[i+7:j]])
		out = out[j+1:]
	}
	b.WriteString(out)
	return b.String()
}

// readyTimeout resolves the readiness timeout: the descriptor's readyTimeout
// wins over the driver default. Accepted forms are Go durations ("90s") and
// plain integer seconds ("90").
func readyTimeout(d *descriptor.Descriptor, def time.Duration) (time.Duration, error) {
	s, ok := d.Lookup(descriptor.CategoryExecution, descriptor.KeyReadyTimeout)
	if !ok {
		return def, nil
	}
	s = strings.TrimSpace(s)
	if dur, err := time.ParseDuration(s); err == nil && dur >= 0 {
		return dur, nil
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return 0, &descriptor.ConfigError{
		Category: descriptor.CategoryExecution,
		Key:      descriptor.KeyReadyTimeout,
		Reason:   descriptor.ReasonInvalid,
		Detail:   fmt.Sprintf("not a duration: %q", s),
	}
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
