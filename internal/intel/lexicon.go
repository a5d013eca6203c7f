package intel

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a transcript
// token to count as a lexicon term. Recognised speech routinely mangles
// spelling ("pasword", "lotery"), so exact matching alone misses too much.
const fuzzyThreshold = 0.92

// fuzzyMinLen is the shortest term eligible for fuzzy matching. Short terms
// like "otp" or "upi" collide with too many unrelated words at any useful
// threshold and must match exactly.
const fuzzyMinLen = 5

// Term is one weighted lexicon entry. Weight feeds the threat score;
// Language tags the lexicon the term came from.
type Term struct {
	Text     string
	Weight   float64
	Language string
}

// Hit is one matched term in an utterance.
type Hit struct {
	Term    Term
	Matched string
}

// Lexicon is a weighted, language-tagged scam keyword table. It is
// read-only after construction and safe for concurrent use.
type Lexicon struct {
	single map[string]Term
	phrase []Term
	fuzzy  []Term
}

// defaultTerms is the built-in English lexicon.
var defaultTerms = []Term{
	{Text: "urgent", Weight: 0.25, Language: "en"},
	{Text: "immediately", Weight: 0.25, Language: "en"},
	{Text: "verify", Weight: 0.3, Language: "en"},
	{Text: "blocked", Weight: 0.35, Language: "en"},
	{Text: "suspended", Weight: 0.35, Language: "en"},
	{Text: "account", Weight: 0.15, Language: "en"},
	{Text: "bank", Weight: 0.25, Language: "en"},
	{Text: "otp", Weight: 0.5, Language: "en"},
	{Text: "password", Weight: 0.6, Language: "en"},
	{Text: "upi", Weight: 0.4, Language: "en"},
	{Text: "credit card", Weight: 0.5, Language: "en"},
	{Text: "debit card", Weight: 0.5, Language: "en"},
	{Text: "police", Weight: 0.45, Language: "en"},
	{Text: "arrest", Weight: 0.6, Language: "en"},
	{Text: "refund", Weight: 0.3, Language: "en"},
	{Text: "lottery", Weight: 0.6, Language: "en"},
	{Text: "winner", Weight: 0.5, Language: "en"},
}

// NewLexicon builds a Lexicon from the given terms, or from the built-in
// table when terms is empty. Multi-word terms are matched as substrings;
// single words match exactly and, above [fuzzyMinLen], by Jaro-Winkler
// similarity.
func NewLexicon(terms ...Term) *Lexicon {
	if len(terms) == 0 {
		terms = defaultTerms
	}
	lex := &Lexicon{single: make(map[string]Term, len(terms))}
	for _, t := range terms {
		t.Text = strings.ToLower(t.Text)
		if strings.ContainsRune(t.Text, ' ') {
			lex.phrase = append(lex.phrase, t)
			continue
		}
		lex.single[t.Text] = t
		if len(t.Text) >= fuzzyMinLen {
			lex.fuzzy = append(lex.fuzzy, t)
		}
	}
	return lex
}

// Scan returns every lexicon term present in text, at most once per term.
func (l *Lexicon) Scan(text string) []Hit {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var hits []Hit

	for _, t := range l.phrase {
		if strings.Contains(lower, t.Text) && !seen[t.Text] {
			seen[t.Text] = true
			hits = append(hits, Hit{Term: t, Matched: t.Text})
		}
	}

	for _, tok := range strings.FieldsFunc(lower, isWordBoundary) {
		if t, ok := l.single[tok]; ok {
			if !seen[t.Text] {
				seen[t.Text] = true
				hits = append(hits, Hit{Term: t, Matched: tok})
			}
			continue
		}
		if len(tok) < fuzzyMinLen {
			continue
		}
		if t, ok := l.fuzzyMatch(tok); ok && !seen[t.Text] {
			seen[t.Text] = true
			hits = append(hits, Hit{Term: t, Matched: tok})
		}
	}

	return hits
}

// fuzzyMatch returns the closest fuzzy-eligible term above the similarity
// threshold.
func (l *Lexicon) fuzzyMatch(tok string) (Term, bool) {
	var (
		best      Term
		bestScore float64
	)
	for _, t := range l.fuzzy {
		if s := matchr.JaroWinkler(tok, t.Text, false); s >= fuzzyThreshold && s > bestScore {
			best, bestScore = t, s
		}
	}
	return best, bestScore > 0
}

func isWordBoundary(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
}
