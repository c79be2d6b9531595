package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCommandLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"only spaces", "   ", nil},
		{"single word", "status", []string{"status"}},
		{"plain words", "-la /tmp", []string{"-la", "/tmp"}},
		{"windows switches", `/c format C: /y`, []string{"/c", "format", "C:", "/y"}},
		{"double quoted span", `open "My Documents\notes.txt"`, []string{"open", `My Documents\notes.txt`}},
		{"single quoted span", "-c 'echo hello world'", []string{"-c", "echo hello world"}},
		{"adjacent quotes join", `--name="a b"c`, []string{"--name=a bc"}},
		{"empty quoted argument", `run ""`, []string{"run", ""}},
		{"backslashes preserved", `C:\Users\demo\app.txt`, []string{`C:\Users\demo\app.txt`}},
		{"unterminated quote runs to end", `say "hello world`, []string{"say", "hello world"}},
		{"tabs separate", "a\tb", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitCommandLine(tt.input))
		})
	}
}
