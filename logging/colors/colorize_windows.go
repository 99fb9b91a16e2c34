//go:build windows

package colors

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// EnableColor asks the console to process ANSI escape codes on stdout, disabling colors if it refuses.
func EnableColor() {
	handle := windows.Handle(os.Stdout.Fd())
	var mode uint32
	if err := windows.GetConsoleMode(handle, &mode); err != nil {
		enabled = false
		return
	}
	if mode&windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING != 0 {
		return
	}
	if err := windows.SetConsoleMode(handle, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING); err != nil {
		enabled = false
	}
}

// Colorize returns the string s wrapped in ANSI code c, unless colors are disabled or unsupported
func Colorize(s any, c Color) string {
	if !enabled {
		return fmt.Sprintf("%v", s)
	}
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}
