package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

// Splitter cuts text at the first separator of its list that occurs,
// recursing into later separators for oversize pieces. Separators stay
// attached to the end of the piece they terminate. An empty separator means
// a hard cut by character count.
type Splitter struct {
	Separators []string
	ChunkSize  int
	Overlap    int
}

func NewSplitter(policy domain.ChunkPolicy) *Splitter {
	chunkSize := policy.MaxChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	overlap := policy.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	separators := policy.Separators
	if len(separators) == 0 {
		separators = domain.DefaultChunkPolicy().Separators
	}
	return &Splitter{
		Separators: separators,
		ChunkSize:  chunkSize,
		Overlap:    overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	raw := s.split(text, s.Separators)
	out := make([]string, 0, len(raw))
	for _, chunk := range raw {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

func (s *Splitter) split(text string, separators []string) []string {
	sep, rest, hard := pickSeparator(text, separators)
	if hard {
		return s.window(text)
	}

	out := make([]string, 0)
	pending := make([]string, 0)
	for _, piece := range strings.SplitAfter(text, sep) {
		if piece == "" {
			continue
		}
		if utf8.RuneCountInString(piece) <= s.ChunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			out = append(out, s.merge(pending)...)
			pending = pending[:0]
		}
		if len(rest) == 0 {
			out = append(out, s.window(piece)...)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(pending) > 0 {
		out = append(out, s.merge(pending)...)
	}
	return out
}

// merge packs small pieces into chunks up to ChunkSize, carrying a tail of
// up to Overlap characters into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	out := make([]string, 0)
	current := make([]string, 0)
	currentLen := 0

	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if currentLen+n > s.ChunkSize && len(current) > 0 {
			out = append(out, strings.Join(current, ""))
			for len(current) > 0 && (currentLen > s.Overlap || currentLen+n > s.ChunkSize) {
				currentLen -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		currentLen += n
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, ""))
	}
	return out
}

func (s *Splitter) window(text string) []string {
	runes := []rune(text)
	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

func pickSeparator(text string, separators []string) (sep string, rest []string, hard bool) {
	for i, candidate := range separators {
		if candidate == "" {
			return "", nil, true
		}
		if strings.Contains(text, candidate) {
			return candidate, separators[i+1:], false
		}
	}
	return "", nil, true
}
