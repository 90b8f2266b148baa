package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"

	"github.com/fatih/color"
)

var (
	infoTag      = color.New(color.FgGreen).SprintFunc()
	warnTag      = color.New(color.FgYellow).SprintFunc()
	errorTag     = color.New(color.FgRed).SprintFunc()
	highlightTag = color.New(color.FgBlue).SprintFunc()
	debugTag     = color.New(color.FgCyan).SprintFunc()

	verbose atomic.Bool
)

// SetVerbose toggles Debugf output.
func SetVerbose(v bool) {
	verbose.Store(v)
}

// Verbose reports whether debug logging is on.
func Verbose() bool {
	return verbose.Load()
}

// Infof logs an info message.
func Infof(format string, args ...any) {
	log.Printf("%s %s", infoTag("INFO"), fmt.Sprintf(format, args...))
}

// Warnf logs a warning message.
func Warnf(format string, args ...any) {
	log.Printf("%s %s", warnTag("WARN"), fmt.Sprintf(format, args...))
}

// Errorf logs an error message.
func Errorf(format string, args ...any) {
	log.Printf("%s %s", errorTag("ERROR"), fmt.Sprintf(format, args...))
}

// Highlightf logs a highlighted message.
func Highlightf(format string, args ...any) {
	log.Printf("%s %s", highlightTag("NOTE"), fmt.Sprintf(format, args...))
}

// Debugf logs only when verbose logging is enabled.
func Debugf(format string, args ...any) {
	if !verbose.Load() {
		return
	}
	log.Printf("%s %s", debugTag("DEBUG"), fmt.Sprintf(format, args...))
}

// TeeLogFile mirrors log output into path. The caller closes the returned file
// at process exit.
func TeeLogFile(path string) (io.Closer, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}
