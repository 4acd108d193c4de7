// Package chunk splits extracted document text into overlapping pieces
// suitable for embedding. The splitter walks a separator ladder — paragraph
// breaks first, then line breaks, then spaces, then single characters — and
// merges segments into chunks near the target size with a fixed overlap.
package chunk

import "strings"

// Config tunes the splitter.
type Config struct {
	// Size is the target chunk size in bytes.
	Size int

	// Overlap is how many bytes of the previous chunk are repeated at the
	// start of the next one.
	Overlap int
}

// DefaultConfig returns the splitter settings used across the pipeline.
func DefaultConfig() Config {
	return Config{Size: 1000, Overlap: 200}
}

// Chunk is one piece of the source text.
type Chunk struct {
	// Text is the chunk content.
	Text string

	// StartIndex is the byte offset of the chunk in the source text. It is
	// persisted as the chunk's stable ordering key.
	StartIndex int
}

// separators is the split ladder, coarsest first. The empty separator means
// character-level splitting and always succeeds.
var separators = []string{"\n\n", "\n", " ", ""}

// Split divides text into overlapping chunks. Empty input yields no chunks.
func Split(text string, cfg Config) []Chunk {
	if cfg.Size <= 0 {
		cfg.Size = 1000
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = 0
	}
	if text == "" {
		return nil
	}
	if len(text) <= cfg.Size {
		return []Chunk{{Text: text, StartIndex: 0}}
	}

	pieces := recursiveSplit(text, separators, cfg)

	// Locate each chunk in the source text. Overlapping chunks repeat
	// content, so the search cursor advances by the non-overlapped part
	// only.
	chunks := make([]Chunk, 0, len(pieces))
	searchFrom := 0
	for _, piece := range pieces {
		idx := strings.Index(text[searchFrom:], piece)
		start := searchFrom
		if idx >= 0 {
			start = searchFrom + idx
		}
		chunks = append(chunks, Chunk{Text: piece, StartIndex: start})

		advance := len(piece) - cfg.Overlap
		if advance < 1 {
			advance = 1
		}
		searchFrom = start + advance
		if searchFrom > len(text) {
			searchFrom = len(text)
		}
	}
	return chunks
}

// recursiveSplit splits text with the first separator that produces more
// than one segment, then merges segments back into sized chunks. Oversized
// segments recurse with the remaining separators.
func recursiveSplit(text string, seps []string, cfg Config) []string {
	sep := seps[len(seps)-1]
	rest := seps
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}

	var segments []string
	if sep == "" {
		segments = splitBySize(text, cfg.Size)
	} else {
		segments = strings.Split(text, sep)
	}

	// Split any segment still over the target with finer separators, then
	// merge everything into final chunks.
	var goodSplits []string
	var final []string
	flush := func() {
		if len(goodSplits) > 0 {
			final = append(final, merge(goodSplits, sep, cfg)...)
			goodSplits = nil
		}
	}
	for _, seg := range segments {
		if len(seg) <= cfg.Size {
			goodSplits = append(goodSplits, seg)
			continue
		}
		flush()
		if len(rest) == 0 {
			final = append(final, seg)
		} else {
			final = append(final, recursiveSplit(seg, rest, cfg)...)
		}
	}
	flush()
	return final
}

// merge joins consecutive segments into chunks close to the target size,
// carrying cfg.Overlap bytes across chunk boundaries.
func merge(segments []string, sep string, cfg Config) []string {
	var chunks []string
	var current []string
	currentLen := 0

	joinedLen := func(n, parts int) int {
		if parts > 1 {
			n += len(sep) * (parts - 1)
		}
		return n
	}

	for _, seg := range segments {
		segLen := len(seg)
		if currentLen > 0 && joinedLen(currentLen+segLen, len(current)+1) > cfg.Size {
			chunk := strings.Join(current, sep)
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			// Drop leading segments until the retained tail fits in the
			// overlap budget.
			for currentLen > cfg.Overlap ||
				(joinedLen(currentLen+segLen, len(current)+1) > cfg.Size && currentLen > 0) {
				currentLen -= len(current[0])
				current = current[1:]
			}
		}
		current = append(current, seg)
		currentLen += segLen
	}

	chunk := strings.Join(current, sep)
	if chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitBySize cuts text into size-byte pieces without looking for
// separators.
func splitBySize(text string, size int) []string {
	var out []string
	for len(text) > size {
		out = append(out, text[:size])
		text = text[size:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
