package receipt

import "bytes"

// Strip removes the known control codes from a formatted payload, leaving
// the printable text and line breaks untouched. Unknown escape sequences are
// left as they are; Strip and Format change together. Each code is removed
// in one pass, so bytes that only form a code once their neighbours are gone
// stay in the text.
func Strip(payload []byte) string {
	out := payload
	for _, code := range ControlCodes {
		out = bytes.ReplaceAll(out, code, nil)
	}
	return string(out)
}

// Preview formats o and strips it for on-screen display.
func (f *Formatter) Preview(o Order) string {
	return Strip(f.Format(o))
}
