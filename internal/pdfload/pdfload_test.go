package pdfload

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/file.pdf"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsNonPDF(t *testing.T) {
	if _, err := Load("pdfload.go"); err == nil {
		t.Fatal("expected error for non-PDF input")
	}
}

// A file whose trailer parses but whose object offsets point at garbage makes
// the parser panic while resolving the page tree. Load must turn that into an
// error so a batch run survives the file.
func TestLoadMalformedObjectsReturnsError(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("this is not an object definition\n")
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	fmt.Fprintf(&buf, "trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)

	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for garbage object offsets")
	}
}
