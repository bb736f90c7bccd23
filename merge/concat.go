package merge

import (
	"slices"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// concatSeparator joins both values when a text merge conflicts.
const concatSeparator = "\n"

// edit replaces the base lines [start, end) with lines.
type edit struct {
	start int
	end   int
	lines []string
}

// concat merges two changed strings line by line against their common base.
//
// Without a base, or when both sides changed the same lines, the values are
// joined in leaf order.
func concat(base string, hasBase bool, v0, v1 string) string {
	switch {
	case hasBase && base == v0:
		return v1
	case hasBase && base == v1:
		return v0
	case !hasBase || base == "":
		return v0 + concatSeparator + v1
	}
	if merged, ok := merge3(base, v0, v1); ok {
		return merged
	}
	return v0 + concatSeparator + v1
}

// merge3 applies the line edits of both sides to the base.
//
// It returns false when the edits overlap and differ.
func merge3(base, v0, v1 string) (string, bool) {
	dmp := diffmatchpatch.New()
	lines := splitLines(base)
	e0 := lineEdits(dmp, base, v0)
	e1 := lineEdits(dmp, base, v1)

	var out strings.Builder
	pos, i, j := 0, 0, 0
	for i < len(e0) || j < len(e1) {
		var next edit
		switch {
		case j >= len(e1):
			next, i = e0[i], i+1
		case i >= len(e0):
			next, j = e1[j], j+1
		case overlaps(e0[i], e1[j]):
			if !sameEdit(e0[i], e1[j]) {
				return "", false
			}
			next, i, j = e0[i], i+1, j+1
		case e0[i].start <= e1[j].start:
			next, i = e0[i], i+1
		default:
			next, j = e1[j], j+1
		}
		out.WriteString(strings.Join(lines[pos:next.start], ""))
		out.WriteString(strings.Join(next.lines, ""))
		pos = next.end
	}
	out.WriteString(strings.Join(lines[pos:], ""))
	return out.String(), true
}

// lineEdits returns the edits turning base into other in base line order.
func lineEdits(dmp *diffmatchpatch.DiffMatchPatch, base, other string) []edit {
	a, b, lineArray := dmp.DiffLinesToChars(base, other)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var edits []edit
	pos := 0
	open := false
	for _, d := range diffs {
		lines := splitLines(d.Text)
		if d.Type == diffmatchpatch.DiffEqual {
			pos += len(lines)
			open = false
			continue
		}
		if !open {
			edits = append(edits, edit{start: pos, end: pos})
			open = true
		}
		cur := &edits[len(edits)-1]
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			cur.end += len(lines)
			pos += len(lines)
		case diffmatchpatch.DiffInsert:
			cur.lines = append(cur.lines, lines...)
		}
	}
	return edits
}

func overlaps(a, b edit) bool {
	if a.start == b.start {
		return true
	}
	return a.start < b.end && b.start < a.end
}

func sameEdit(a, b edit) bool {
	return a.start == b.start && a.end == b.end && slices.Equal(a.lines, b.lines)
}

// splitLines splits text after every newline, keeping the newlines.
func splitLines(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
