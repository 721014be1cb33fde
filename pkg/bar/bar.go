// Package bar renders sampling progress on the terminal.
package bar

import (
	"io"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

// New returns a bar counting frames towards length
func New(length int, text string) *progressbar.ProgressBar {
	return NewWithWriter(ansi.NewAnsiStdout(), length, text)
}

func NewWithWriter(w io.Writer, length int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(text),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// TickHook adapts a bar to a count/total progress callback
func TickHook(b *progressbar.ProgressBar) func(count, total int) {
	return func(count, total int) {
		if b.GetMax() != total {
			b.ChangeMax(total)
		}
		_ = b.Set(count)
	}
}
