package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// PadRight pads or truncates a string to a fixed width.
func PadRight(str string, width int) string {
	w := runewidth.StringWidth(str)
	if w > width {
		return runewidth.Truncate(str, width, "...")
	}
	return str + strings.Repeat(" ", width-w)
}

// Row lays cells out in fixed width columns separated by a space. Cells
// beyond len(widths) are appended as they are; the result has no trailing
// padding.
func Row(widths []int, cells ...string) string {
	var b strings.Builder
	for i, cell := range cells {
		if i > 0 {
			b.WriteByte(' ')
		}
		if i < len(widths) && i < len(cells)-1 {
			b.WriteString(PadRight(cell, widths[i]))
			continue
		}
		if i < len(widths) {
			cell = runewidth.Truncate(cell, widths[i], "...")
		}
		b.WriteString(cell)
	}
	return b.String()
}
