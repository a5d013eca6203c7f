// Package intel extracts scam intelligence from call transcripts: typed
// entities, influence-tactic labels, and a monotone threat score.
//
// Extraction is two-stage. Stage A applies deterministic recognisers and a
// fuzzy keyword lexicon; stage B asks the LLM for entities under a strict
// JSON schema and discards anything that fails validation. Findings are
// stateless; the per-call [State] coalesces them into the cumulative
// snapshot and computes the delta worth emitting.
package intel

import "time"

// Kind is the closed set of entity types.
type Kind string

const (
	KindPhone       Kind = "phone"
	KindURL         Kind = "url"
	KindUpiHandle   Kind = "upi_handle"
	KindBankAccount Kind = "bank_account"
	KindIfscCode    Kind = "ifsc_code"
	KindEmail       Kind = "email"
	KindKeyword     Kind = "keyword"
)

// Closed tactic labels. TacticMaliciousURL is only ever added by a
// reputation verdict, never by transcript analysis.
const (
	TacticUrgency           = "urgency"
	TacticAuthority         = "authority"
	TacticFear              = "fear"
	TacticGreed             = "greed"
	TacticCredentialRequest = "credential_request"
	TacticImpersonation     = "impersonation"
	TacticIsolation         = "isolation"
	TacticMaliciousURL      = "malicious_url"
)

// Entity is one extracted entity. Value is canonicalised; (Kind, Value) is
// the uniqueness key.
type Entity struct {
	Kind        Kind
	Value       string
	Confidence  float64
	FirstSeenAt time.Time
}

// Snapshot is the cumulative intelligence state of a call.
type Snapshot struct {
	Entities    []Entity
	Tactics     []string
	ThreatScore float64
	UpdatedAt   time.Time
}

// Delta is what one merge newly contributed: entities and tactics not seen
// before, the post-merge threat score, and whether the merge moved it. An
// empty delta (no new entities, no new tactics, unchanged score) is not
// worth an envelope.
type Delta struct {
	NewEntities  []Entity
	NewTactics   []string
	ThreatScore  float64
	ScoreChanged bool
	UpdatedAt    time.Time
}

// Empty reports whether d carries nothing new. A merge that only raised the
// threat score is not empty; the operator's displayed score would go stale.
func (d Delta) Empty() bool {
	return len(d.NewEntities) == 0 && len(d.NewTactics) == 0 && !d.ScoreChanged
}

// Findings is the stateless result of analysing one utterance.
type Findings struct {
	// Entities found in the utterance, canonicalised, without FirstSeenAt.
	Entities []Entity

	// Tactics detected in the utterance.
	Tactics []string

	// Severity is the summed lexicon weight of the keyword hits, the main
	// feature of the threat-score update.
	Severity float64
}
