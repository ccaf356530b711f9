package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/tomyedwab/fbdriver/descriptor"
	"github.com/tomyedwab/fbdriver/native"
)

const nullText = "<null>"

// displayWidth counts terminal cells, two for wide East Asian runes.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func pad(s string, w int, right bool) string {
	fill := strings.Repeat(" ", max(w-displayWidth(s), 0))
	if right {
		return fill + s
	}
	return s + fill
}

func numeric(c descriptor.Column) bool {
	switch c.SQLType {
	case native.SQLShort, native.SQLLong, native.SQLInt64, native.SQLFloat, native.SQLDouble, native.SQLDFloat:
		return true
	}
	return false
}

func formatValue(c descriptor.Column, v any) string {
	switch x := v.(type) {
	case nil:
		return nullText
	case string:
		return x
	case []byte:
		return "0x" + strings.ToUpper(hex.EncodeToString(x))
	case time.Time:
		switch c.SQLType {
		case native.SQLTypeDate:
			return x.Format(time.DateOnly)
		case native.SQLTypeTime:
			return x.Format("15:04:05.0000")
		}
		return x.Format("2006-01-02 15:04:05.0000")
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func writeLine(w io.Writer, cells []string, widths []int, right []bool, sep string) error {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = pad(c, widths[i], right[i])
	}
	_, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, sep), " "))
	return err
}

// renderRows prints rows as an aligned table followed by a row count.
// Numeric columns are right-aligned.
func renderRows(w io.Writer, cols []descriptor.Column, rows [][]any) error {
	header := make([]string, len(cols))
	widths := make([]int, len(cols))
	right := make([]bool, len(cols))
	for i, c := range cols {
		header[i] = c.Alias
		widths[i] = displayWidth(c.Alias)
		right[i] = numeric(c)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(cols))
		for i, v := range row {
			s := formatValue(cols[i], v)
			cells[r][i] = s
			widths[i] = max(widths[i], displayWidth(s))
		}
	}

	if err := writeLine(w, header, widths, right, " | "); err != nil {
		return err
	}
	rule := make([]string, len(cols))
	for i, n := range widths {
		rule[i] = strings.Repeat("-", n)
	}
	if err := writeLine(w, rule, widths, right, "-+-"); err != nil {
		return err
	}
	for _, row := range cells {
		if err := writeLine(w, row, widths, right, " | "); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "(%d %s)\n", len(rows), plural(int64(len(rows)), "row", "rows"))
	return err
}

// renderPairs prints key: value lines with the values aligned.
func renderPairs(w io.Writer, pairs [][2]string) error {
	keyWidth := 0
	for _, p := range pairs {
		keyWidth = max(keyWidth, displayWidth(p[0])+1)
	}
	for _, p := range pairs {
		if _, err := fmt.Fprintf(w, "%s %s\n", pad(p[0]+":", keyWidth, false), p[1]); err != nil {
			return err
		}
	}
	return nil
}
