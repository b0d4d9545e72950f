package pipeline

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Assembler joins per-chunk transcriptions into one transcript in chunk
// order, smoothing capitalization across chunk boundaries.
type Assembler struct {
	separator string
}

// NewAssembler creates an assembler that joins segments with a blank line
func NewAssembler() *Assembler {
	return &Assembler{separator: "\n\n"}
}

// Join concatenates segments in order. Blank segments are dropped. When the
// previous kept segment ends a sentence, the next segment's first letter is
// uppercased; otherwise it is left as the provider produced it, since the
// chunk boundary likely landed mid-sentence.
func (a *Assembler) Join(segments []string) string {
	var kept []string
	for _, segment := range segments {
		trimmed := strings.TrimSpace(segment)
		if trimmed != "" {
			kept = append(kept, trimmed)
		}
	}

	if len(kept) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, segment := range kept {
		if i > 0 {
			sb.WriteString(a.separator)

			if endsSentence(kept[i-1]) {
				segment = upperFirst(segment)
			}
		}
		sb.WriteString(segment)
	}

	return sb.String()
}

// PartialNotice renders the header prepended to a transcript when some
// chunks failed. failed holds the ordinals of the failed chunks.
func (a *Assembler) PartialNotice(failed []int, total int) string {
	if len(failed) == 0 {
		return ""
	}

	positions := make([]string, len(failed))
	for i, ordinal := range failed {
		positions[i] = fmt.Sprintf("%d", ordinal+1)
	}

	noun := "segment"
	if len(failed) > 1 {
		noun = "segments"
	}

	return fmt.Sprintf("[Note: %d of %d audio segments could not be transcribed (%s %s). The transcript below is incomplete.]",
		len(failed), total, noun, strings.Join(positions, ", "))
}

// AssemblePartial joins the surviving segments and prepends the partial
// notice when any failed.
func (a *Assembler) AssemblePartial(segments []string, failed []int, total int) string {
	transcript := a.Join(segments)

	notice := a.PartialNotice(failed, total)
	if notice == "" {
		return transcript
	}

	if transcript == "" {
		return notice
	}

	return notice + a.separator + transcript
}

// endsSentence reports whether s ends with sentence-final punctuation,
// ignoring trailing quotes and brackets.
func endsSentence(s string) bool {
	runes := []rune(s)
	for i := len(runes) - 1; i >= 0; i-- {
		switch runes[i] {
		case '"', '\'', ')', ']', '»', '”', '’':
			continue
		case '.', '!', '?', '…':
			return true
		default:
			return false
		}
	}
	return false
}

// upperFirst uppercases the first letter of s, skipping leading
// non-letter runes such as quotes.
func upperFirst(s string) string {
	for i, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}

		upper := unicode.ToUpper(r)
		if upper == r {
			return s
		}

		return s[:i] + string(upper) + s[i+utf8.RuneLen(r):]
	}
	return s
}
