package report

import (
	"io"
	"os"

	"golang.org/x/term"
)

// PlainEnvVar forces unstyled output when set to any value.
const PlainEnvVar = "PGTALLY_PLAIN"

// IsStyled reports whether output to w should carry colors and borders.
//
// Returns false if:
//   - w is not a terminal (pipes, files, buffers)
//   - PGTALLY_PLAIN, NO_COLOR or CI is set
func IsStyled(w io.Writer) bool {
	for _, name := range []string{PlainEnvVar, "NO_COLOR", "CI"} {
		if os.Getenv(name) != "" {
			return false
		}
	}

	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
