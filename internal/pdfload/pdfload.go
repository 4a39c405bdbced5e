package pdfload

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Document is the extracted content of one PDF file.
type Document struct {
	Text   string
	Author string
}

// UnknownAuthor is recorded when a PDF carries no usable author metadata.
const UnknownAuthor = "Unknown"

// Load extracts the plain text and best-effort author metadata from a PDF at
// path. Authorship comes from the document information dictionary and applies
// to the whole file; a missing or empty entry yields UnknownAuthor. An
// unreadable file is an error; a readable file with no text is not, and the
// caller decides how to treat an empty Text.
//
// The underlying parser panics on malformed object definitions, even when the
// trailer itself parses, so the whole load is wrapped in a recover that turns
// such panics into errors. A bad file must fail its own ingest, never take
// down a batch run.
func Load(path string) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = Document{}
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	doc.Author = author(rdr)

	body, err := rdr.GetPlainText()
	if err != nil {
		return Document{}, fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return Document{}, fmt.Errorf("read pdf text: %w", err)
	}
	doc.Text = buf.String()
	return doc, nil
}

// author reads /Info /Author from the trailer. The underlying parser can
// panic on malformed metadata, so the lookup is isolated behind a recover.
func author(rdr *pdf.Reader) (name string) {
	name = UnknownAuthor
	defer func() {
		if r := recover(); r != nil {
			name = UnknownAuthor
		}
	}()
	info := rdr.Trailer().Key("Info")
	if info.IsNull() {
		return name
	}
	if v := strings.TrimSpace(info.Key("Author").Text()); v != "" {
		name = v
	}
	return name
}
