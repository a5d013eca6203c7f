package intel

import (
	"testing"
	"time"
)

func TestStateMerge_ThreatScoreMonotone(t *testing.T) {
	s := NewState()
	now := time.Now()

	d := s.Merge(Findings{Severity: 0.7}, now)
	if d.ThreatScore != 0.7 {
		t.Fatalf("score = %v, want 0.7", d.ThreatScore)
	}

	// A weaker utterance must not lower the score.
	d = s.Merge(Findings{Severity: 0.2}, now.Add(time.Second))
	if d.ThreatScore != 0.7 {
		t.Fatalf("score dropped to %v after weak utterance", d.ThreatScore)
	}

	// A stronger one raises it, capped at 1.0.
	d = s.Merge(Findings{Severity: 2.5}, now.Add(2*time.Second))
	if d.ThreatScore != 1.0 {
		t.Fatalf("score = %v, want cap at 1.0", d.ThreatScore)
	}
}

func TestStateMerge_EntityCoalescing(t *testing.T) {
	s := NewState()
	now := time.Now()

	phone := Entity{Kind: KindPhone, Value: "919876543210", Confidence: 1}
	d := s.Merge(Findings{Entities: []Entity{phone}}, now)
	if len(d.NewEntities) != 1 {
		t.Fatalf("first merge: want 1 new entity, got %d", len(d.NewEntities))
	}

	// The same canonical value seen again contributes nothing.
	d = s.Merge(Findings{Entities: []Entity{phone}}, now.Add(time.Second))
	if len(d.NewEntities) != 0 {
		t.Fatalf("second merge: want 0 new entities, got %v", d.NewEntities)
	}

	snap := s.Snapshot()
	if len(snap.Entities) != 1 {
		t.Fatalf("snapshot holds %d entities, want 1", len(snap.Entities))
	}
	if got := snap.Entities[0].FirstSeenAt; !got.Equal(now) {
		t.Errorf("FirstSeenAt = %v, want first sighting %v", got, now)
	}
}

func TestStateMerge_TacticsAttributedOnce(t *testing.T) {
	s := NewState()
	now := time.Now()

	d := s.Merge(Findings{Tactics: []string{TacticCredentialRequest}}, now)
	if len(d.NewTactics) != 1 {
		t.Fatalf("want 1 new tactic, got %v", d.NewTactics)
	}
	d = s.Merge(Findings{Tactics: []string{TacticCredentialRequest, TacticFear}}, now)
	if len(d.NewTactics) != 1 || d.NewTactics[0] != TacticFear {
		t.Fatalf("want only the fear tactic to be new, got %v", d.NewTactics)
	}
}

func TestStateMerge_MaliciousURLTacticRejected(t *testing.T) {
	// Transcript analysis alone must never attribute malicious_url.
	s := NewState()
	d := s.Merge(Findings{Tactics: []string{TacticMaliciousURL}}, time.Now())
	if len(d.NewTactics) != 0 {
		t.Fatalf("malicious_url accepted from findings: %v", d.NewTactics)
	}
}

func TestStateMerge_RepeatedUrgency(t *testing.T) {
	s := NewState()
	now := time.Now()

	urgent := Findings{Severity: 0.25, Tactics: []string{TacticUrgency}}
	d := s.Merge(urgent, now)
	first := d.ThreatScore

	d = s.Merge(urgent, now.Add(time.Second))
	want := first + weightRepeatedUrgency
	if d.ThreatScore != want {
		t.Fatalf("repeated urgency score = %v, want %v", d.ThreatScore, want)
	}
}

func TestStateMerge_ScoreOnlyDeltaNotEmpty(t *testing.T) {
	s := NewState()
	now := time.Now()
	urgent := Findings{Severity: 0.25, Tactics: []string{TacticUrgency}}

	first := s.Merge(urgent, now)
	if first.Empty() {
		t.Fatalf("first merge empty: %+v", first)
	}

	// The repeat contributes no entity or tactic, only the urgency bonus.
	second := s.Merge(urgent, now.Add(time.Second))
	if len(second.NewEntities) != 0 || len(second.NewTactics) != 0 {
		t.Fatalf("repeat merge contributed %+v", second)
	}
	if second.Empty() {
		t.Fatal("score-raising merge reported as empty")
	}
	if !second.ScoreChanged || second.ThreatScore <= first.ThreatScore {
		t.Fatalf("second delta = %+v, first score %v", second, first.ThreatScore)
	}

	// A third identical utterance moves nothing and stays suppressed.
	third := s.Merge(urgent, now.Add(2*time.Second))
	if !third.Empty() || third.ScoreChanged {
		t.Fatalf("no-op merge delta = %+v", third)
	}
}

func TestStateMerge_EntityFeatureWeights(t *testing.T) {
	s := NewState()
	d := s.Merge(Findings{
		Entities: []Entity{{Kind: KindUpiHandle, Value: "a@paytm"}},
	}, time.Now())
	if d.ThreatScore != weightUpiPresent {
		t.Fatalf("score = %v, want %v", d.ThreatScore, weightUpiPresent)
	}
}

func TestStateMarkMaliciousURL(t *testing.T) {
	s := NewState()
	now := time.Now()
	s.Merge(Findings{
		Entities: []Entity{{Kind: KindURL, Value: "http://evil.example.com"}},
	}, now)
	before := s.ThreatScore()

	d := s.MarkMaliciousURL(now.Add(time.Second))
	if len(d.NewTactics) != 1 || d.NewTactics[0] != TacticMaliciousURL {
		t.Fatalf("want malicious_url tactic, got %v", d.NewTactics)
	}
	if d.ThreatScore <= before {
		t.Fatalf("score %v not strictly greater than %v after verdict", d.ThreatScore, before)
	}

	// A second verdict adds nothing new besides a possible score bump.
	d = s.MarkMaliciousURL(now.Add(2 * time.Second))
	if len(d.NewTactics) != 0 {
		t.Fatalf("tactic attributed twice: %v", d.NewTactics)
	}
}

func TestStateSnapshot_Isolated(t *testing.T) {
	s := NewState()
	s.Merge(Findings{Entities: []Entity{{Kind: KindKeyword, Value: "otp"}}}, time.Now())

	snap := s.Snapshot()
	snap.Entities[0].Value = "mutated"
	snap.Tactics = append(snap.Tactics, "bogus")

	if got := s.Snapshot().Entities[0].Value; got != "otp" {
		t.Fatalf("snapshot mutation leaked into state: %q", got)
	}
}
