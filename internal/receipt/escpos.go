package receipt

import (
	"bytes"
	"strings"
)

// ESC/POS control codes understood by the target thermal printer.
var (
	CodeInit        = []byte{0x1B, 0x40}       // ESC @
	CodeAlignCenter = []byte{0x1B, 0x61, 0x01} // ESC a 1
	CodeAlignLeft   = []byte{0x1B, 0x61, 0x00} // ESC a 0
	CodeBoldOn      = []byte{0x1B, 0x45, 0x01} // ESC E 1
	CodeBoldOff     = []byte{0x1B, 0x45, 0x00} // ESC E 0
	CodeCut         = []byte{0x1B, 0x69}       // ESC i
)

// ControlCodes lists every code the formatter emits, in the order the
// preview stripper removes them.
var ControlCodes = [][]byte{
	CodeInit,
	CodeAlignCenter,
	CodeAlignLeft,
	CodeBoldOn,
	CodeBoldOff,
	CodeCut,
}

// Alignment selects ESC a justification.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
)

// Builder assembles an ESC/POS byte stream.
type Builder struct {
	buf bytes.Buffer
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Init resets the printer to its power-on state.
func (b *Builder) Init() *Builder {
	b.buf.Write(CodeInit)
	return b
}

// Align sets justification for subsequent lines.
func (b *Builder) Align(a Alignment) *Builder {
	if a == AlignCenter {
		b.buf.Write(CodeAlignCenter)
	} else {
		b.buf.Write(CodeAlignLeft)
	}
	return b
}

// Bold toggles emphasized printing.
func (b *Builder) Bold(on bool) *Builder {
	if on {
		b.buf.Write(CodeBoldOn)
	} else {
		b.buf.Write(CodeBoldOff)
	}
	return b
}

// Text writes s verbatim.
func (b *Builder) Text(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// Line writes s followed by a newline.
func (b *Builder) Line(s string) *Builder {
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
	return b
}

// Rule writes a full-width line of c.
func (b *Builder) Rule(c byte, width int) *Builder {
	return b.Line(strings.Repeat(string(c), width))
}

// Feed writes n empty lines.
func (b *Builder) Feed(n int) *Builder {
	b.buf.WriteString(strings.Repeat("\n", n))
	return b
}

// Cut asks the printer to cut the paper.
func (b *Builder) Cut() *Builder {
	b.buf.Write(CodeCut)
	return b
}

// Bytes returns a copy of the assembled stream.
func (b *Builder) Bytes() []byte {
	return bytes.Clone(b.buf.Bytes())
}
