package util

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// IsTerminal checks if the given file descriptor is a terminal
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// GetTerminalWidth returns the width of the terminal, or 80 if not a terminal
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80 // Default width
	}
	return width
}

// NewProgressBar returns a progress bar on an interactive stderr, nil otherwise.
// A total of -1 renders an indeterminate spinner.
func NewProgressBar(total int, description, unit string) *progressbar.ProgressBar {
	if !IsTerminal(os.Stderr.Fd()) || IsQuiet() {
		return nil
	}

	width := GetTerminalWidth() / 3
	if width < 20 {
		width = 20
	}

	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(width),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
