package snapshot

import (
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestHTMLEscapesPreview(t *testing.T) {
	r := NewRenderer("")
	html, err := r.HTML("Fish & <Chips>   2.00\n")
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	if !strings.Contains(html, "Fish &amp; &lt;Chips&gt;   2.00\n") {
		t.Errorf("HTML() did not escape preview text:\n%s", html)
	}
	if !strings.Contains(html, "width: 32ch") {
		t.Error("HTML() should size the page to 32 columns")
	}
}

func TestDataURLEscape(t *testing.T) {
	in := "<pre>Total: $10.00\tA+B</pre>"
	got := dataURLEscape(in)
	if strings.Contains(got, "+") {
		t.Errorf("dataURLEscape(%q) = %q, want no literal +", in, got)
	}
	back, err := url.PathUnescape(got)
	if err != nil {
		t.Fatalf("PathUnescape() error = %v", err)
	}
	if back != in {
		t.Errorf("round trip = %q, want %q", back, in)
	}
}

func TestFindChromeOnPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as fake browser")
	}
	dir := t.TempDir()
	fake := filepath.Join(dir, "chromium")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("writing fake chromium: %v", err)
	}
	t.Setenv("PATH", dir)

	got, err := FindChrome()
	if err != nil {
		t.Fatalf("FindChrome() error = %v", err)
	}
	if got != fake {
		t.Errorf("FindChrome() = %q, want %q", got, fake)
	}
}
