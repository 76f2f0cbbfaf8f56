// Package vocabulary rewrites misheard words in transcripts to terms from a
// configured list, such as product names or people the assistant is expected
// to recognise.
//
// Matching runs in two stages per candidate window of words:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for each word
//     of the window and of every term. A term whose codes overlap with the
//     window's is a phonetic candidate and is accepted when its Jaro-Winkler
//     similarity reaches the phonetic threshold (default 0.70).
//
//  2. Fuzzy fallback: when no phonetic candidate qualifies, the term with
//     the highest Jaro-Winkler similarity is accepted if it reaches the
//     stricter fuzzy threshold (default 0.85).
//
// Multi-word terms are supported. A window only matches terms with the same
// number of words, and at each position the longest matching window wins, so
// "tower of wispers" becomes "Tower of Whispers". Punctuation around a
// replaced window is kept.
package vocabulary

import (
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Correction records one substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
	Phonetic   bool
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matching term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// match exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// WithLogger sets the logger used to report corrections at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Corrector) { c.logger = l }
}

// term is a vocabulary entry with its tokens and codes computed once.
type term struct {
	text   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
	logger            *slog.Logger
}

// New prepares a Corrector for terms. Blank and duplicate terms are ignored.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		logger:            slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}

	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		lower := strings.ToLower(t)
		if lower == "" {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		tokens := strings.Fields(lower)
		c.terms = append(c.terms, term{text: t, lower: lower, tokens: tokens, codes: codesForTokens(tokens)})
		c.maxWords = max(c.maxWords, len(tokens))
	}
	return c
}

// Len reports the number of distinct terms.
func (c *Corrector) Len() int { return len(c.terms) }

// Correct returns text with every matched window replaced by its term, and
// the substitutions made. Text without substitutions is returned unchanged;
// otherwise whitespace is normalised to single spaces. Windows that already
// equal a term (ignoring case) are left as they are.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.terms) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n := min(c.maxWords, len(tokens)-i)
		matched := false
		for ; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			t, conf, phonetic, ok := c.match(window)
			if !ok {
				continue
			}
			if strings.EqualFold(trimPunct(window), t.text) {
				out = append(out, tokens[i:i+n]...)
			} else {
				lead, trail := punctAround(window)
				out = append(out, lead+t.text+trail)
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  t.text,
					Confidence: conf,
					Phonetic:   phonetic,
				})
			}
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// CorrectText is Correct without the substitution list. Corrections are
// logged at debug level.
func (c *Corrector) CorrectText(text string) string {
	corrected, corrections := c.Correct(text)
	for _, cr := range corrections {
		c.logger.Debug("vocabulary: corrected transcript",
			"original", cr.Original,
			"corrected", cr.Corrected,
			"confidence", cr.Confidence,
			"phonetic", cr.Phonetic,
		)
	}
	return corrected
}

// match finds the best term for window.
func (c *Corrector) match(window string) (best term, score float64, phonetic, ok bool) {
	lower := strings.ToLower(trimPunct(window))
	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return term{}, 0, false, false
	}
	codes := codesForTokens(tokens)

	for _, t := range c.terms {
		// A window only matches terms of the same word count, otherwise a
		// short term would swallow neighbouring words.
		if len(t.tokens) != len(tokens) {
			continue
		}
		jw := bestJWScore(tokens, t.tokens, lower, t.lower)
		if codesOverlap(codes, t.codes) {
			if jw >= c.phoneticThreshold && (!phonetic || jw > score) {
				best, score, phonetic, ok = t, jw, true, true
			}
		} else if !phonetic && jw >= c.fuzzyThreshold && jw > score {
			best, score, ok = t, jw, true
		}
	}
	return best, score, phonetic, ok
}

// punctAround returns the punctuation trimPunct would remove from each end.
func punctAround(s string) (lead, trail string) {
	core := trimPunct(s)
	if core == "" {
		return "", ""
	}
	i := strings.Index(s, core)
	return s[:i], s[i+len(core):]
}

// trimPunct strips leading and trailing punctuation that STT engines attach
// to words.
func trimPunct(s string) string {
	return strings.Trim(s, ".,!?;:\"'()")
}

// codesForTokens returns the union of Double Metaphone codes for tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore takes the highest Jaro-Winkler similarity of the full strings,
// the space-stripped strings and every token pair.
func bestJWScore(inputTokens, termTokens []string, input, t string) float64 {
	score := matchr.JaroWinkler(input, t, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
