package intel

import (
	"sync"
	"time"
)

// Threat score feature weights. Keyword severity arrives separately via
// [Findings.Severity]; these cover the structural features of an utterance.
const (
	weightURLPresent        = 0.35
	weightPhonePresent      = 0.25
	weightEmailPresent      = 0.25
	weightUpiPresent        = 0.45
	weightBankPresent       = 0.6
	weightIfscPresent       = 0.3
	weightCredentialRequest = 0.15
	weightRepeatedUrgency   = 0.2

	// maliciousURLBoost is added when a reputation verdict flags a URL, so
	// the post-verdict score is strictly greater as long as headroom
	// remains below 1.0.
	maliciousURLBoost = 0.3
)

var kindWeights = map[Kind]float64{
	KindURL:         weightURLPresent,
	KindPhone:       weightPhonePresent,
	KindEmail:       weightEmailPresent,
	KindUpiHandle:   weightUpiPresent,
	KindBankAccount: weightBankPresent,
	KindIfscCode:    weightIfscPresent,
}

// State is the cumulative intelligence of one call. Entities are keyed by
// (kind, canonical value) so the same artefact spoken twice, or in two
// formats, stays one entity. The threat score never decreases: each update
// takes min(1, max(old, candidate)).
type State struct {
	mu        sync.Mutex
	entities  map[entityKey]Entity
	order     []entityKey
	tactics   []string
	tacticSet map[string]bool
	score     float64
	urgent    bool
	updatedAt time.Time
}

// NewState creates an empty State.
func NewState() *State {
	return &State{
		entities:  make(map[entityKey]Entity),
		tacticSet: make(map[string]bool),
	}
}

// Merge folds one utterance's findings into the state and returns the delta
// they newly contributed. Entities already known by (kind, value) are
// dropped; tactics already attributed are dropped; the threat score is
// raised to the utterance's candidate score when that is higher.
func (s *State) Merge(f Findings, now time.Time) Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.score
	d := Delta{UpdatedAt: now}

	for _, e := range f.Entities {
		k := entityKey{e.Kind, e.Value}
		if _, ok := s.entities[k]; ok {
			continue
		}
		if e.FirstSeenAt.IsZero() {
			e.FirstSeenAt = now
		}
		s.entities[k] = e
		s.order = append(s.order, k)
		d.NewEntities = append(d.NewEntities, e)
	}

	for _, t := range f.Tactics {
		if t == TacticMaliciousURL || s.tacticSet[t] {
			continue
		}
		s.tacticSet[t] = true
		s.tactics = append(s.tactics, t)
		d.NewTactics = append(d.NewTactics, t)
	}

	candidate := f.Severity
	for _, e := range f.Entities {
		candidate += kindWeights[e.Kind]
	}
	urgentNow := containsTactic(f.Tactics, TacticUrgency)
	if urgentNow && s.urgent {
		candidate += weightRepeatedUrgency
	}
	if urgentNow {
		s.urgent = true
	}
	if containsTactic(f.Tactics, TacticCredentialRequest) {
		candidate += weightCredentialRequest
	}

	if candidate > s.score {
		s.score = min(1.0, candidate)
	}
	d.ScoreChanged = s.score != prev
	d.ThreatScore = s.score
	if !d.Empty() {
		s.updatedAt = now
	}
	return d
}

// MarkMaliciousURL records a positive reputation verdict: the malicious_url
// tactic is attributed and the threat score is bumped. The returned delta is
// empty when the verdict changes nothing, which only happens once the score
// has already saturated at 1.0 and the tactic is already present.
func (s *State) MarkMaliciousURL(now time.Time) Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Delta{UpdatedAt: now}
	if !s.tacticSet[TacticMaliciousURL] {
		s.tacticSet[TacticMaliciousURL] = true
		s.tactics = append(s.tactics, TacticMaliciousURL)
		d.NewTactics = []string{TacticMaliciousURL}
	}
	if s.score < 1.0 {
		s.score = min(1.0, s.score+maliciousURLBoost)
		d.ScoreChanged = true
	}
	d.ThreatScore = s.score
	if !d.Empty() {
		s.updatedAt = now
	}
	return d
}

// Snapshot returns a copy of the cumulative state. Entities appear in
// first-seen order, tactics in first-attribution order.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Entities:    make([]Entity, 0, len(s.order)),
		Tactics:     make([]string, len(s.tactics)),
		ThreatScore: s.score,
		UpdatedAt:   s.updatedAt,
	}
	for _, k := range s.order {
		snap.Entities = append(snap.Entities, s.entities[k])
	}
	copy(snap.Tactics, s.tactics)
	return snap
}

// ThreatScore returns the current score.
func (s *State) ThreatScore() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

func containsTactic(tactics []string, want string) bool {
	for _, t := range tactics {
		if t == want {
			return true
		}
	}
	return false
}
