package toolsafety

import (
	"fmt"

	"github.com/jarvis-labs/fabric/internal/tools/security"
)

// ShellArgsAllowList additionally restricts a shell tool's argv[0] to a
// fixed set of binaries, on top of security.IsSafeCommand's quote-aware
// metacharacter rejection — the metacharacter check alone still lets a
// command run an arbitrary, un-sandboxed binary.
type ShellArgsAllowList struct {
	AllowedBinaries map[string]bool
}

// NewShellArgsAllowList builds an allow-list over the given binary names.
func NewShellArgsAllowList(binaries ...string) *ShellArgsAllowList {
	allowed := make(map[string]bool, len(binaries))
	for _, b := range binaries {
		allowed[b] = true
	}
	return &ShellArgsAllowList{AllowedBinaries: allowed}
}

// CheckCommand rejects cmd if it contains shell metacharacters outside
// quotes, or if its first word is not in the allow-list.
func (a *ShellArgsAllowList) CheckCommand(cmd string) error {
	if !security.IsSafeCommand(cmd) {
		reason := security.ExtractUnsafeReason(cmd)
		return fmt.Errorf("toolsafety: command rejected: %s", reason)
	}
	bin := firstWord(cmd)
	if bin == "" {
		return fmt.Errorf("toolsafety: empty command")
	}
	if len(a.AllowedBinaries) > 0 && !a.AllowedBinaries[bin] {
		return fmt.Errorf("toolsafety: binary %q not in allow-list", bin)
	}
	return nil
}

func firstWord(cmd string) string {
	start := 0
	for start < len(cmd) && cmd[start] == ' ' {
		start++
	}
	end := start
	for end < len(cmd) && cmd[end] != ' ' {
		end++
	}
	return cmd[start:end]
}
