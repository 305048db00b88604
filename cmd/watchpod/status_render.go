package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// statusLine renders an aligned "Label: [STATE] detail" line, colorized when
// the writer is a terminal.
func statusLine(out io.Writer, label, state, detail string) {
	text := fmt.Sprintf("  %-18s [%s]", label+":", state)
	if detail != "" {
		text += " " + detail
	}
	if color := stateColor(state); color != "" && shouldColorize(out) {
		text = color + text + ansiReset
	}
	fmt.Fprintln(out, text)
}

func stateColor(state string) string {
	switch state {
	case "OK", "RUNNING", "CONNECTED":
		return ansiGreen
	case "WARN", "DISCONNECTED":
		return ansiYellow
	case "ERROR", "STOPPED", "MISSING":
		return ansiRed
	default:
		return ""
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
