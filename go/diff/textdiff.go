// Package diff turns two snapshots of a site into a structured, persisted
// delta: a line-level hunk document, change statistics with a significance
// class, and an optional annotated visual delta of their screenshots.
package diff

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// Change types within a hunk.
const (
	TypeContext = "context"
	TypeDelete  = "delete"
	TypeInsert  = "insert"
)

const (
	// contextLines bounds the context carried on either side of a change.
	contextLines = 3
	// splitThreshold is the longest equal run kept inside a single hunk.
	splitThreshold = 10
)

// Change is one line of a hunk. Content carries the original line behind a
// ' ', '-', or '+' prefix. OldLine and NewLine are 1-based and nil on the
// side the change doesn't touch.
type Change struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	OldLine *int   `json:"oldLine"`
	NewLine *int   `json:"newLine"`
}

// Hunk is a contiguous region of change with bounded context.
type Hunk struct {
	Content  string   `json:"content"`
	OldStart int      `json:"oldStart"`
	OldLines int      `json:"oldLines"`
	NewStart int      `json:"newStart"`
	NewLines int      `json:"newLines"`
	Changes  []Change `json:"changes"`
}

// Document is the serialized form stored as diff.json.
type Document struct {
	Hunks []Hunk `json:"hunks"`
}

// BuildHunks projects the opcode sequence over two line arrays into hunks.
// Equal runs longer than splitThreshold lines close the open hunk with up
// to contextLines of trailing context and start the next hunk with up to
// contextLines of leading context. Two identical inputs yield no hunks.
func BuildHunks(oldLines, newLines []string) []Hunk {
	var opcodes = difflib.NewMatcher(oldLines, newLines).GetOpCodes()
	var hunks []Hunk
	var h *hunkBuilder

	for k, op := range opcodes {
		switch op.Tag {
		case 'e':
			if h == nil {
				// Leading context is drawn from the tail of this run when
				// the next change opens a hunk.
				continue
			}
			var n = op.I2 - op.I1
			if k == len(opcodes)-1 || n > splitThreshold {
				// Trailing edge: cap the context and close the hunk.
				h.context(oldLines, op, op.I1, min(op.I1+contextLines, op.I2))
				hunks = append(hunks, h.build())
				h = nil
			} else {
				h.context(oldLines, op, op.I1, op.I2)
			}

		default: // 'r', 'd', 'i'
			if h == nil {
				h = openHunk(oldLines, opcodes, k)
			}
			for i := op.I1; i < op.I2; i++ {
				h.delete(oldLines[i], i)
			}
			for j := op.J1; j < op.J2; j++ {
				h.insert(newLines[j], j)
			}
		}
	}
	if h != nil {
		hunks = append(hunks, h.build())
	}
	return hunks
}

// openHunk starts a hunk at change opcode |k|, pulling up to contextLines
// of leading context from the tail of the preceding equal opcode.
func openHunk(oldLines []string, opcodes []difflib.OpCode, k int) *hunkBuilder {
	var op = opcodes[k]
	var h = &hunkBuilder{firstOld: op.I1, firstNew: op.J1}

	if k > 0 && opcodes[k-1].Tag == 'e' {
		var prev = opcodes[k-1]
		var from = max(prev.I1, prev.I2-contextLines)
		h.firstOld = from
		h.firstNew = prev.J1 + (from - prev.I1)
		h.context(oldLines, prev, from, prev.I2)
	}
	return h
}

// hunkBuilder accumulates changes of one hunk. firstOld and firstNew are
// the 0-based indices at which the hunk opens.
type hunkBuilder struct {
	firstOld, firstNew int
	oldCount, newCount int
	changes            []Change
}

func (h *hunkBuilder) context(oldLines []string, op difflib.OpCode, from, to int) {
	for i := from; i < to; i++ {
		var oldLine = i + 1
		var newLine = op.J1 + (i - op.I1) + 1
		h.changes = append(h.changes, Change{
			Type:    TypeContext,
			Content: " " + oldLines[i],
			OldLine: &oldLine,
			NewLine: &newLine,
		})
		h.oldCount++
		h.newCount++
	}
}

func (h *hunkBuilder) delete(line string, i int) {
	var oldLine = i + 1
	h.changes = append(h.changes, Change{Type: TypeDelete, Content: "-" + line, OldLine: &oldLine})
	h.oldCount++
}

func (h *hunkBuilder) insert(line string, j int) {
	var newLine = j + 1
	h.changes = append(h.changes, Change{Type: TypeInsert, Content: "+" + line, NewLine: &newLine})
	h.newCount++
}

func (h *hunkBuilder) build() Hunk {
	// Zero-count sides anchor at the line preceding the hunk, matching
	// unified-diff header conventions.
	var oldStart = h.firstOld + 1
	if h.oldCount == 0 {
		oldStart = h.firstOld
	}
	var newStart = h.firstNew + 1
	if h.newCount == 0 {
		newStart = h.firstNew
	}
	return Hunk{
		Content: fmt.Sprintf("@@ -%d,%d +%d,%d @@", oldStart, h.oldCount, newStart, h.newCount),
		OldStart: oldStart,
		OldLines: h.oldCount,
		NewStart: newStart,
		NewLines: h.newCount,
		Changes:  h.changes,
	}
}
