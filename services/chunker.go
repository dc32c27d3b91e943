package services

import (
	"sort"
	"strings"
	"unicode"

	"docintel-backend/models"
)

// Chunker splits source text into overlapping token spans. Tokens are
// whitespace-delimited words; spans are byte ranges into the source, so
// concatenating each chunk's non-overlap region reproduces the text exactly.
type Chunker struct {
	targetTokens      int
	overlapTokens     int
	boundaryTolerance float64 // fraction of targetTokens searched for a sentence break
	minChunkTokens    int     // trailing fragments below this fold into the previous chunk
}

// NewChunker creates a chunker with the given token geometry. minChunkTokens
// of zero disables trailing-fragment folding.
func NewChunker(targetTokens, overlapTokens int, boundaryTolerance float64, minChunkTokens int) *Chunker {
	if boundaryTolerance < 0 {
		boundaryTolerance = 0
	}
	if minChunkTokens < 0 {
		minChunkTokens = 0
	}
	return &Chunker{
		targetTokens:      targetTokens,
		overlapTokens:     overlapTokens,
		boundaryTolerance: boundaryTolerance,
		minChunkTokens:    minChunkTokens,
	}
}

// tokenSpan is one whitespace-delimited token and its byte range
type tokenSpan struct {
	start int
	end   int
}

// ChunkText splits text into chunks of roughly targetTokens tokens with
// overlapTokens of shared context between neighbours. pageOffsets, when
// non-empty, holds the byte offset where each page starts and is used to
// annotate chunks with their starting page.
func (c *Chunker) ChunkText(text string, pageOffsets []int) ([]models.DocumentChunk, error) {
	if c.targetTokens <= 0 {
		return nil, &ChunkingError{Reason: "target tokens must be positive"}
	}
	if c.overlapTokens < 0 || c.overlapTokens >= c.targetTokens {
		return nil, &ChunkingError{Reason: "overlap tokens must be smaller than target tokens"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &ChunkingError{Reason: "document text is empty"}
	}

	tokens := tokenize(text)
	n := len(tokens)
	paragraphEnds := paragraphEndTokens(text, tokens)

	var chunks []models.DocumentChunk
	start := 0

	for start < n {
		end := start + c.targetTokens
		oversized := false

		if end >= n {
			end = n
		} else {
			// Prefer a sentence or paragraph break near the nominal end.
			end = c.adjustBoundary(text, tokens, start, end, paragraphEnds)

			// A single unit longer than the target is kept whole.
			if unitEnd, ok := oversizedUnitEnd(text, tokens, paragraphEnds, start, end, c.targetTokens); ok {
				end = unitEnd
				oversized = true
				if end > n {
					end = n
				}
			}

			// A trailing fragment below the minimum folds into this chunk.
			if end < n && n-end < c.minChunkTokens {
				end = n
			}
		}

		startOffset := tokens[start].start
		if len(chunks) == 0 {
			startOffset = 0
		}
		endOffset := len(text)
		if end < n {
			// Extend through trailing whitespace to the next token so the
			// non-overlap regions tile the source byte-for-byte.
			endOffset = tokens[end].start
		}

		chunk := models.DocumentChunk{
			Index:         len(chunks),
			Text:          text[startOffset:endOffset],
			StartOffset:   startOffset,
			EndOffset:     endOffset,
			StartToken:    start,
			EndToken:      end,
			TokenCount:    end - start,
			OverlapTokens: 0,
			Oversized:     oversized,
		}
		if len(chunks) > 0 {
			prevEnd := chunks[len(chunks)-1].EndToken
			if prevEnd > start {
				chunk.OverlapTokens = prevEnd - start
			}
		}
		if len(pageOffsets) > 0 {
			chunk.Page = pageForOffset(pageOffsets, startOffset)
		}
		chunks = append(chunks, chunk)

		if end >= n {
			break
		}
		next := end - c.overlapTokens
		if next <= start {
			return nil, &ChunkingError{Reason: "chunker cannot make progress, overlap too large for boundary"}
		}
		start = next
	}

	return chunks, nil
}

// adjustBoundary moves the chunk end backwards to the nearest sentence or
// paragraph break within the tolerance window. Without a break in the window
// the nominal end stands.
func (c *Chunker) adjustBoundary(text string, tokens []tokenSpan, start, nominalEnd int, paragraphEnds map[int]bool) int {
	window := int(c.boundaryTolerance * float64(c.targetTokens))
	if window <= 0 {
		return nominalEnd
	}
	lowest := nominalEnd - window
	if lowest <= start {
		lowest = start + 1
	}
	for end := nominalEnd; end >= lowest; end-- {
		if paragraphEnds[end] {
			return end
		}
		if endsSentence(text, tokens[end-1]) {
			return end
		}
	}
	return nominalEnd
}

// oversizedUnitEnd reports the end of an indivisible paragraph that starts
// exactly at the chunk start and exceeds the target size on its own. A
// paragraph with internal sentence breaks is splittable and never oversized.
func oversizedUnitEnd(text string, tokens []tokenSpan, paragraphEnds map[int]bool, start, end, target int) (int, bool) {
	if start != 0 && !paragraphEnds[start] {
		return 0, false
	}
	// Find the end of the paragraph containing start.
	next := -1
	for e := range paragraphEnds {
		if e > start && (next == -1 || e < next) {
			next = e
		}
	}
	if next == -1 || next-start <= target || next <= end {
		return 0, false
	}
	for i := start + 1; i < next; i++ {
		if endsSentence(text, tokens[i-1]) {
			return 0, false
		}
	}
	return next, true
}

// tokenize returns byte spans for every whitespace-delimited token
func tokenize(text string) []tokenSpan {
	var spans []tokenSpan
	inToken := false
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inToken {
				spans = append(spans, tokenSpan{start: start, end: i})
				inToken = false
			}
		} else if !inToken {
			start = i
			inToken = true
		}
	}
	if inToken {
		spans = append(spans, tokenSpan{start: start, end: len(text)})
	}
	return spans
}

// paragraphEndTokens maps token indices that begin a new paragraph. The
// index after the final token is always a paragraph end.
func paragraphEndTokens(text string, tokens []tokenSpan) map[int]bool {
	ends := map[int]bool{len(tokens): true}
	for i := 1; i < len(tokens); i++ {
		gap := text[tokens[i-1].end:tokens[i].start]
		if strings.Count(gap, "\n") >= 2 {
			ends[i] = true
		}
	}
	return ends
}

// endsSentence reports whether the token closes a sentence
func endsSentence(text string, tok tokenSpan) bool {
	word := strings.TrimRight(text[tok.start:tok.end], `"')]`)
	if word == "" {
		return false
	}
	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// pageForOffset returns the 1-based page containing the byte offset
func pageForOffset(pageOffsets []int, offset int) int {
	i := sort.SearchInts(pageOffsets, offset+1)
	if i == 0 {
		return 1
	}
	return i
}

// TokenCount reports the number of whitespace-delimited tokens in text
func TokenCount(text string) int {
	return len(strings.Fields(text))
}
