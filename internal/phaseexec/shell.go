package phaseexec

import (
	"bufio"
	"io"
)

// shellName returns the platform default shell used to run phase commands
// (spec.md §6.3: "executed with the platform default shell"). This repo
// targets POSIX hosts; see process.go.
func shellName() string {
	return "/bin/sh"
}

func shellFlag() string {
	return "-c"
}

// scanLines reads r line by line, calling onLine for each complete line.
// Used to stream a phase command's stdout/stderr into the attempt log as
// it runs rather than buffering the whole output (spec.md §4.C "capture
// stdout+stderr line-buffered into the attempt log").
func scanLines(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
}
