package intel

import "strings"

// termTactics maps lexicon terms to the tactic their presence signals.
// Terms without an entry ("account", "bank") score but carry no tactic on
// their own.
var termTactics = map[string]string{
	"urgent":      TacticUrgency,
	"immediately": TacticUrgency,
	"verify":      TacticCredentialRequest,
	"otp":         TacticCredentialRequest,
	"password":    TacticCredentialRequest,
	"upi":         TacticCredentialRequest,
	"credit card": TacticCredentialRequest,
	"debit card":  TacticCredentialRequest,
	"blocked":     TacticFear,
	"suspended":   TacticFear,
	"arrest":      TacticFear,
	"police":      TacticAuthority,
	"refund":      TacticGreed,
	"lottery":     TacticGreed,
	"winner":      TacticGreed,
}

// phraseTactics holds multi-word cues that the lexicon does not score but
// that reveal a tactic directly.
var phraseTactics = []struct {
	phrase string
	tactic string
}{
	{"calling from", TacticImpersonation},
	{"bank official", TacticImpersonation},
	{"customer care", TacticImpersonation},
	{"tech support", TacticImpersonation},
	{"customs officer", TacticImpersonation},
	{"income tax", TacticAuthority},
	{"cyber cell", TacticAuthority},
	{"legal action", TacticFear},
	{"case against you", TacticFear},
	{"don't tell", TacticIsolation},
	{"do not tell", TacticIsolation},
	{"don't hang up", TacticIsolation},
	{"do not hang up", TacticIsolation},
	{"stay on the line", TacticIsolation},
	{"keep this secret", TacticIsolation},
	{"keep it confidential", TacticIsolation},
}

// detectTactics derives tactic labels for one utterance from its lexicon
// hits and phrase cues. The result is deduplicated and ordered by first
// occurrence.
func detectTactics(text string, hits []Hit) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var out []string

	add := func(tactic string) {
		if tactic != "" && !seen[tactic] {
			seen[tactic] = true
			out = append(out, tactic)
		}
	}

	for _, h := range hits {
		add(termTactics[h.Term.Text])
	}
	for _, p := range phraseTactics {
		if strings.Contains(lower, p.phrase) {
			add(p.tactic)
		}
	}

	return out
}
