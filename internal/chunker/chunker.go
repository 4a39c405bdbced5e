package chunker

import "strings"

// Splitter cuts document text into overlapping, bounded chunks suitable for
// embedding. Adjacent chunks share an overlap so that statements spanning a
// boundary survive retrieval.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter creates a splitter producing chunks of at most chunkSize runes
// with chunkOverlap runes shared between neighbours.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   []string{"\n\n", "\n", ". ", " "},
	}
}

// Split returns ordered chunks of text. Whitespace-only input yields nil, not
// an error; callers treat that as a soft "no extractable text" outcome.
// Splitting is deterministic for identical input and configuration.
func (s *Splitter) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + s.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.cutAt(runes, start, end)
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}

		if end == len(runes) {
			break
		}
		next := end - s.chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// cutAt moves the window end back to the nearest natural boundary, preferring
// paragraph breaks over lines, sentences and words. A boundary is only used
// when it keeps at least half a chunk of content; otherwise the hard cut at
// end stands.
func (s *Splitter) cutAt(runes []rune, start, end int) int {
	window := string(runes[start:end])
	floor := s.chunkSize / 2
	for _, sep := range s.separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		boundary := len([]rune(window[:idx+len(sep)]))
		if boundary >= floor {
			return start + boundary
		}
	}
	return end
}
