package voice

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern   = regexp.MustCompile("`[^`]*`")
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURLPattern      = regexp.MustCompile(`https?://\S+`)
	// Heading marks, bullets, numbered items and quote marks at line start.
	linePrefixPattern = regexp.MustCompile(`^\s*(?:#{1,6}\s+|[-*+•]\s+|\d+[.)]\s+|>\s*)`)
)

// speechText is the form of a response sent to playback: markup, links and
// emoji are removed. The transcript keeps the original. A response with
// nothing speakable left is returned unchanged.
func speechText(raw string) string {
	if clean := sanitizeSpeechText(raw); clean != "" {
		return clean
	}
	return strings.TrimSpace(raw)
}

// sanitizeSpeechText turns model markdown into plain sentences. Each non-empty
// line becomes a sentence so list items get a pause between them.
func sanitizeSpeechText(raw string) string {
	raw = fencedCodePattern.ReplaceAllString(raw, "\n")
	raw = inlineCodePattern.ReplaceAllString(raw, " ")
	raw = markdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = bareURLPattern.ReplaceAllString(raw, " ")

	var sentences []string
	for _, line := range strings.Split(raw, "\n") {
		if line = speakableRunes(linePrefixPattern.ReplaceAllString(line, "")); line != "" {
			sentences = append(sentences, line)
		}
	}
	for i := 0; i < len(sentences)-1; i++ {
		if !endsSentence(sentences[i]) {
			sentences[i] += "."
		}
	}
	return strings.Join(sentences, " ")
}

func speakableRunes(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	space := true
	for _, r := range line {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		case strings.ContainsRune(".,!?:;'\"-()«»—–…", r):
			b.WriteRune(r)
			space = false
		case unicode.IsPunct(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

func endsSentence(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return strings.ContainsRune(".!?:;…", r)
}
