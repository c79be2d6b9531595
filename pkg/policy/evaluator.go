package policy

import (
	"fmt"
	"strings"
)

// Decision represents the outcome of a single policy evaluation
type Decision struct {
	Allowed bool   // Whether the command may run
	Reason  string // Why it was denied; empty when allowed
}

// Evaluator checks launch requests against the built-in rule set.
// The zero value is usable; NewEvaluator exists for symmetry with the
// other components.
type Evaluator struct{}

// NewEvaluator creates a new policy evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate decides whether the given executable path may be launched with
// the given argument string. Checks run in order: blocked executable names,
// destructive command signatures over path plus arguments, then shell
// argument screening. The first match denies; no match allows.
func (e *Evaluator) Evaluate(path, arguments string) Decision {
	name := executableName(path)
	stem := nameStem(name)

	if _, blocked := deniedExecutables[stem]; blocked {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("executable %q is on the blocked list", name),
		}
	}
	// Filesystem creation tools carry the target type as a suffix
	// (mkfs.ext4, mkfs.ntfs), so the stem alone is not enough.
	if strings.HasPrefix(stem, "mkfs") {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("executable %q is on the blocked list", name),
		}
	}

	command := strings.ToLower(strings.TrimSpace(path + " " + arguments))
	for _, sig := range destructiveSignatures {
		if sig.pattern.MatchString(command) {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("command matches destructive signature: %s", sig.label),
			}
		}
	}

	if _, isShell := shellHosts[stem]; isShell {
		args := strings.ToLower(arguments)
		for _, fragment := range shellRestricted {
			if strings.Contains(args, fragment) {
				return Decision{
					Allowed: false,
					Reason:  fmt.Sprintf("shell argument contains restricted operation %q", strings.TrimSpace(fragment)),
				}
			}
		}
	}

	return Decision{Allowed: true}
}

// executableName extracts the lower-cased final path element. Both slash
// styles are handled so Windows-style paths evaluate identically on every
// platform.
func executableName(path string) string {
	name := strings.TrimSpace(path)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

// nameStem strips a single file extension from an executable name.
func nameStem(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}
