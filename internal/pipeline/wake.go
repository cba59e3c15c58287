package pipeline

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// detectWake scores the transcript against the configured phrase list. The
// first phrase (in list order) whose score meets the threshold wins; when
// none does, the result reports Detected=false with Confidence 0.
func detectWake(transcript string, phrases []string, threshold float64) Wake {
	words := normalizeWords(transcript)
	if len(words) == 0 {
		return Wake{}
	}

	for _, phrase := range phrases {
		if score := phraseScore(words, phrase); score >= threshold {
			return Wake{Detected: true, Phrase: phrase, Confidence: score}
		}
	}
	return Wake{}
}

// phraseScore returns the best Jaro-Winkler similarity between the phrase
// and any same-length word window of the transcript. Each window is compared
// two ways: space-joined and space-stripped, so "hey calliope" still matches
// a transcript that ran the words together.
func phraseScore(words []string, phrase string) float64 {
	phraseWords := normalizeWords(phrase)
	if len(phraseWords) == 0 {
		return 0
	}
	phraseFull := strings.Join(phraseWords, " ")
	phraseJoined := strings.Join(phraseWords, "")

	span := len(phraseWords)
	if span > len(words) {
		span = len(words)
	}

	var best float64
	for i := 0; i+span <= len(words); i++ {
		window := words[i : i+span]

		if score := matchr.JaroWinkler(strings.Join(window, " "), phraseFull, false); score > best {
			best = score
		}
		if score := matchr.JaroWinkler(strings.Join(window, ""), phraseJoined, false); score > best {
			best = score
		}
	}
	return best
}

// normalizeWords lowercases s, strips everything but letters and digits, and
// splits on whitespace.
func normalizeWords(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}
