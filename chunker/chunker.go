// Package chunker splits extracted document text into overlapping,
// size-bounded chunks for embedding and indexing.
package chunker

import "strings"

var separators = []string{"\n\n", "\n", " "}

// Chunk splits text into overlapping chunks of at most chunkSize
// characters. Returns nil for blank input.
//
// Algorithm:
//  1. Recursively split on paragraph breaks, then newlines, then spaces
//     until every piece fits within chunkSize (hard character cut for
//     pieces with no separators at all).
//  2. Greedily merge pieces into a buffer. When the next piece would
//     overflow, emit the buffer as a chunk, then seed the new buffer
//     with the trailing overlap characters of the emitted chunk,
//     advanced to the next word boundary so chunks never start mid-word.
func Chunk(text string, chunkSize, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := recursiveSplit(strings.TrimSpace(text), separators, chunkSize)

	var chunks []string
	var buf []string

	for _, piece := range pieces {
		tentative := piece
		if len(buf) > 0 {
			tentative = strings.Join(buf, " ") + " " + piece
		}
		if len(tentative) > chunkSize && len(buf) > 0 {
			chunk := strings.Join(buf, " ")
			chunks = append(chunks, chunk)

			overlapText := chunk
			if len(chunk) > overlap {
				cut := len(chunk) - overlap
				if spaceIdx := strings.Index(chunk[cut:], " "); spaceIdx != -1 {
					overlapText = chunk[cut+spaceIdx+1:]
				} else {
					overlapText = chunk[cut:]
				}
			}

			buf = buf[:0]
			// Seed only when the overlap still leaves room for the
			// incoming piece; the size bound beats the overlap.
			if strings.TrimSpace(overlapText) != "" && len(overlapText)+1+len(piece) <= chunkSize {
				buf = append(buf, overlapText)
			}
		}
		buf = append(buf, piece)
	}

	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, " "))
	}

	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

// recursiveSplit breaks text into pieces that are each at most
// chunkSize characters, trying the separators in order and falling back
// to a hard character cut when none apply.
func recursiveSplit(text string, seps []string, chunkSize int) []string {
	if len(text) <= chunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	for i, sep := range seps {
		if !strings.Contains(text, sep) {
			continue
		}
		remaining := seps[i+1:]
		var result []string
		for _, part := range strings.Split(text, sep) {
			stripped := strings.TrimSpace(part)
			if stripped == "" {
				continue
			}
			if len(stripped) <= chunkSize {
				result = append(result, stripped)
			} else {
				result = append(result, recursiveSplit(stripped, remaining, chunkSize)...)
			}
		}
		return result
	}

	// No separator at all (e.g. one very long word): hard cut.
	var result []string
	for i := 0; i < len(text); i += chunkSize {
		end := i + chunkSize
		if end > len(text) {
			end = len(text)
		}
		piece := text[i:end]
		if strings.TrimSpace(piece) != "" {
			result = append(result, piece)
		}
	}
	return result
}
