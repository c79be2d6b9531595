package logger

import (
	"io"
	"regexp"
)

const redactedMark = "[REDACTED]"

// redactionRule rewrites a match, keeping whatever the pattern captures
// in ${1}. Key names survive redaction so the log line stays readable.
type redactionRule struct {
	re   *regexp.Regexp
	repl string
}

func defaultRules() []redactionRule {
	return []redactionRule{
		// Header and config keys, case-insensitive because HTTP headers
		// arrive in any casing. The separator and value classes treat a
		// backslash as a delimiter: inside a JSON-encoded log line quotes
		// arrive as \" and the value must stop before the escape.
		{
			re:   regexp.MustCompile(`(?i)((?:x-commanda-secret|shared_secret|api[_-]?key)["\s:=\\]+)[^\s",}\\]+`),
			repl: "${1}" + redactedMark,
		},
		// Generic credential words in argv and tool arguments. Kept
		// case-sensitive so prose like "Secret store initialized" is
		// left alone.
		{
			re:   regexp.MustCompile(`((?:password|pwd|token|secret)["\s:=\\]+)[^\s",}\\]+`),
			repl: "${1}" + redactedMark,
		},
		// Bearer authorization values
		{
			re:   regexp.MustCompile(`(Bearer\s+)[a-zA-Z0-9._-]+`),
			repl: "${1}" + redactedMark,
		},
		// Vendor API keys appearing bare in argv or command output
		{
			re:   regexp.MustCompile(`sk-(?:ant-)?[a-zA-Z0-9_-]{20,}`),
			repl: redactedMark,
		},
		// AWS access key ids
		{
			re:   regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			repl: redactedMark,
		},
	}
}

// Redactor scrubs secret material from log lines before they reach any
// sink.
type Redactor struct {
	rules []redactionRule
}

// NewRedactor creates a redactor with the default rules
func NewRedactor() *Redactor {
	return &Redactor{rules: defaultRules()}
}

// AddPattern adds a custom pattern whose whole match is replaced
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}

	r.rules = append(r.rules, redactionRule{re: re, repl: redactedMark})
	return nil
}

// Redact applies every rule to s
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return s
}

// Wrap returns a writer that redacts everything written through it
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		next:     w,
		redactor: r,
	}
}

type redactingWriter struct {
	next     io.Writer
	redactor *Redactor
}

// Write reports the original length. Redaction can shorten the line, and
// a smaller n would read as a short write to the caller.
func (w *redactingWriter) Write(p []byte) (n int, err error) {
	if _, err := w.next.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
