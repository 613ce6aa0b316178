package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

// stderrIsTTY gates color so piped output stays clean even without
// --no-color.
var stderrIsTTY = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

func colorize(color, text string) string {
	if noColor || !stderrIsTTY {
		return text
	}
	return color + text + ansiReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", colorize(ansiGreen, "ok"), fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", colorize(ansiRed, "error:"), fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", colorize(ansiYellow, "warning:"), fmt.Sprintf(format, args...))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(ansiBold, label+":"), val)
}

func printStep(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", colorize(ansiCyan, "->"), fmt.Sprintf(format, args...))
}
