package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// switchMode is the value of an auto|on|off flag such as --ui or --color.
type switchMode string

const (
	switchAuto switchMode = "auto"
	switchOn   switchMode = "on"
	switchOff  switchMode = "off"
)

func parseSwitch(flag, value string) (switchMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return switchAuto, nil
	case "on", "true", "1":
		return switchOn, nil
	case "off", "false", "0":
		return switchOff, nil
	}
	return "", fmt.Errorf("invalid --%s value %q (expected auto|on|off)", flag, value)
}

// enabled resolves auto against w: only an interactive terminal with a
// capable TERM qualifies.
func (m switchMode) enabled(w io.Writer) bool {
	switch m {
	case switchOn:
		return true
	case switchOff:
		return false
	}
	f, ok := w.(*os.File)
	if !ok || !isTerminal(f) {
		return false
	}
	return os.Getenv("TERM") != "dumb"
}
