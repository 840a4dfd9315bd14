package repl

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dimiro1/banner"
)

const bannerTemplate = `{{ .Title "opsbridge" "" 0 }}
`

// PrintBanner writes the startup banner with the model and the connected tools.
func PrintBanner(w io.Writer, color bool, model, server string, tools []string) {
	banner.Init(w, true, color, bytes.NewBufferString(bannerTemplate))
	fmt.Fprintf(w, "Model: %s | Server: %s\n", model, server)
	if len(tools) == 0 {
		fmt.Fprintln(w, "Tools: (none)")
	} else {
		fmt.Fprintf(w, "Tools: %s\n", strings.Join(tools, ", "))
	}
	fmt.Fprintln(w, "Type your queries or 'quit' to exit. /help lists commands.")
	fmt.Fprintln(w)
}
