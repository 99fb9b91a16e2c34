package colors

import "fmt"

// Color is an ANSI SGR code
type Color int

// ANSI codes used to colorize console output
const (
	// RED is the ANSI code for red
	RED Color = iota + 31
	// GREEN is the ANSI code for green
	GREEN
	// YELLOW is the ANSI code for yellow
	YELLOW
	// BLUE is the ANSI code for blue
	BLUE
	// MAGENTA is the ANSI code for magenta
	MAGENTA
	// CYAN is the ANSI code for cyan
	CYAN
	// BOLD is the ANSI code for bold text
	BOLD Color = 1
)

// LEFT_ARROW is the unicode glyph prefixed to info-level console output
const LEFT_ARROW = "⇾"

// ColorFunc is an alias type for a coloring function that accepts anything and returns a colorized string
type ColorFunc = func(s any) string

// enabled indicates whether ANSI codes are emitted at all
var enabled = true

// init will ensure that ANSI coloring is enabled where the terminal supports it
func init() {
	EnableColor()
}

// DisableColor turns off colorization for all subsequent output
func DisableColor() {
	enabled = false
}

// Reset is a ColorFunc that simply returns the input as a string. It is used for resetting the color context during
// complex logging operations.
func Reset(s any) string {
	return fmt.Sprintf("%v", s)
}

// bold applies a color and then bolds it
func bold(s any, c Color) string {
	return Colorize(Colorize(s, c), BOLD)
}

// RedBold is a ColorFunc that returns a red-bold-colorized string of the provided input
func RedBold(s any) string { return bold(s, RED) }

// Green is a ColorFunc that returns a green-colorized string of the provided input
func Green(s any) string { return Colorize(s, GREEN) }

// GreenBold is a ColorFunc that returns a green-bold-colorized string of the provided input
func GreenBold(s any) string { return bold(s, GREEN) }

// YellowBold is a ColorFunc that returns a yellow-bold-colorized string of the provided input
func YellowBold(s any) string { return bold(s, YELLOW) }

// BlueBold is a ColorFunc that returns a blue-bold-colorized string of the provided input
func BlueBold(s any) string { return bold(s, BLUE) }

// CyanBold is a ColorFunc that returns a cyan-bold-colorized string of the provided input
func CyanBold(s any) string { return bold(s, CYAN) }

// Bold is a ColorFunc that returns a bolded string of the provided input
func Bold(s any) string { return Colorize(s, BOLD) }
