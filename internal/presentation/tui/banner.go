package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the stateful ASCII banner to w. Colors are dropped when
// w is not a terminal.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	lines := []struct{ text, color string }{
		{"      _        _       __       _ ", "#818cf8"},
		{"  ___| |_ __ _| |_ ___/ _|_   _| |", "#a78bfa"},
		{" / __| __/ _` | __/ _ \\ |_| | | | |", "#c084fc"},
		{" \\__ \\ || (_| | ||  __/  _| |_| | |", "#e879f9"},
		{" |___/\\__\\__,_|\\__\\___|_|  \\__,_|_|", "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  version "+version).Faint())
	fmt.Fprintln(w)
}
