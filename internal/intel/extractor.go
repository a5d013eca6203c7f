package intel

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/kavachlabs/kavach/pkg/provider/llm"
)

const extractionSystemPrompt = `You extract scam intelligence from one utterance of a phone call transcript.
Respond with a single JSON object and nothing else, using exactly these keys:
{"bank_accounts": [], "upi_ids": [], "phone_numbers": [], "urls": [], "scam_keywords": [], "behavioral_tactics": []}
behavioral_tactics values must come from: urgency, authority, fear, greed, credential_request, impersonation, isolation.
Leave arrays empty when nothing matches. Never invent values that are not present in the utterance.`

// llmExtraction is the schema the model must produce. Unknown keys fail
// decoding and the whole response is discarded.
type llmExtraction struct {
	BankAccounts      []string `json:"bank_accounts"`
	UpiIDs            []string `json:"upi_ids"`
	PhoneNumbers      []string `json:"phone_numbers"`
	URLs              []string `json:"urls"`
	ScamKeywords      []string `json:"scam_keywords"`
	BehavioralTactics []string `json:"behavioral_tactics"`
}

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithLLM enables the second extraction stage using the given provider.
// Without it the Extractor runs recognisers and lexicon only.
func WithLLM(p llm.Provider) Option {
	return func(e *Extractor) {
		e.llm = p
	}
}

// WithLexicon replaces the built-in keyword lexicon.
func WithLexicon(lex *Lexicon) Option {
	return func(e *Extractor) {
		e.lex = lex
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(e *Extractor) {
		e.log = log
	}
}

// Extractor analyses single utterances. It is stateless per call and safe
// for concurrent use; callers fold its [Findings] into a [State].
type Extractor struct {
	llm llm.Provider
	lex *Lexicon
	log *slog.Logger
}

// NewExtractor creates an Extractor with the supplied options.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		lex: NewLexicon(),
		log: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Analyze runs both extraction stages over one utterance. Stage A is
// deterministic and always contributes; stage B consults the LLM and is
// dropped without error when the model misbehaves, times out, or returns
// anything outside the schema. The error return is reserved for context
// cancellation.
func (e *Extractor) Analyze(ctx context.Context, text string) (Findings, error) {
	f := e.analyzeDeterministic(text)

	if e.llm == nil {
		return f, nil
	}
	if err := ctx.Err(); err != nil {
		return f, err
	}

	ext, ok := e.consultLLM(ctx, text)
	if !ok {
		return f, ctx.Err()
	}
	e.mergeExtraction(&f, ext)
	f.Entities = dedupeEntities(f.Entities)
	return f, ctx.Err()
}

// analyzeDeterministic is stage A: pattern recognisers plus the keyword
// lexicon and tactic rules.
func (e *Extractor) analyzeDeterministic(text string) Findings {
	var f Findings
	f.Entities = recognise(text)

	hits := e.lex.Scan(text)
	for _, h := range hits {
		conf := 1.0
		if h.Matched != h.Term.Text {
			conf = 0.9
		}
		f.Entities = append(f.Entities, Entity{
			Kind:       KindKeyword,
			Value:      h.Term.Text,
			Confidence: conf,
		})
		f.Severity += h.Term.Weight
	}

	f.Tactics = detectTactics(text, hits)
	f.Entities = dedupeEntities(f.Entities)
	return f
}

// consultLLM is stage B. Any failure, from transport errors to schema
// violations, discards the stage entirely.
func (e *Extractor) consultLLM(ctx context.Context, text string) (llmExtraction, bool) {
	resp, err := e.llm.Complete(ctx, llm.Request{
		SystemPrompt: extractionSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: text}},
		Temperature:  0,
		ForceJSON:    true,
	})
	if err != nil {
		e.log.Debug("intel: llm extraction failed", "provider", e.llm.Name(), "error", err)
		return llmExtraction{}, false
	}

	var ext llmExtraction
	dec := json.NewDecoder(strings.NewReader(stripFences(resp.Content)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ext); err != nil {
		e.log.Debug("intel: llm extraction schema violation", "provider", e.llm.Name(), "error", err)
		return llmExtraction{}, false
	}
	return ext, true
}

// mergeExtraction folds the validated stage B output into f. Every value is
// re-run through the stage A canonicalisers; values that do not survive
// canonicalisation are dropped one by one.
func (e *Extractor) mergeExtraction(f *Findings, ext llmExtraction) {
	for _, raw := range ext.PhoneNumbers {
		digits := separator.Replace(strings.TrimSpace(raw))
		if isPhoneRun(raw, digits) {
			f.Entities = append(f.Entities, Entity{Kind: KindPhone, Value: canonicalPhone(digits), Confidence: 0.8})
		}
	}
	for _, raw := range ext.BankAccounts {
		digits := separator.Replace(strings.TrimSpace(raw))
		if n := len(digits); n >= 9 && n <= 18 && digits == strings.Map(keepDigits, digits) {
			f.Entities = append(f.Entities, Entity{Kind: KindBankAccount, Value: digits, Confidence: 0.8})
		}
	}
	for _, raw := range ext.URLs {
		if v, ok := canonicalURL(strings.TrimSpace(raw)); ok {
			f.Entities = append(f.Entities, Entity{Kind: KindURL, Value: v, Confidence: 0.8})
		}
	}
	for _, raw := range ext.UpiIDs {
		raw = strings.ToLower(strings.TrimSpace(raw))
		local, psp, ok := strings.Cut(raw, "@")
		if ok && local != "" && upiProviders[psp] {
			f.Entities = append(f.Entities, Entity{Kind: KindUpiHandle, Value: raw, Confidence: 0.8})
		}
	}
	for _, raw := range ext.ScamKeywords {
		for _, h := range e.lex.Scan(raw) {
			f.Entities = append(f.Entities, Entity{Kind: KindKeyword, Value: h.Term.Text, Confidence: 0.8})
		}
	}
	for _, t := range ext.BehavioralTactics {
		if isClosedTactic(t) && !containsTactic(f.Tactics, t) {
			f.Tactics = append(f.Tactics, t)
		}
	}
}

func isClosedTactic(t string) bool {
	switch t {
	case TacticUrgency, TacticAuthority, TacticFear, TacticGreed,
		TacticCredentialRequest, TacticImpersonation, TacticIsolation:
		return true
	}
	return false
}

// stripFences removes a markdown code fence wrapper if the model added one
// despite the JSON instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func keepDigits(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}
