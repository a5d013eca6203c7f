package intel

import "testing"

func hitTerms(hits []Hit) map[string]bool {
	out := make(map[string]bool, len(hits))
	for _, h := range hits {
		out[h.Term.Text] = true
	}
	return out
}

func TestLexiconScan_ExactTerms(t *testing.T) {
	lex := NewLexicon()
	hits := lex.Scan("Your account has been blocked, verify immediately!")

	got := hitTerms(hits)
	for _, want := range []string{"account", "blocked", "verify", "immediately"} {
		if !got[want] {
			t.Errorf("missing hit for %q, got %v", want, got)
		}
	}
}

func TestLexiconScan_Phrase(t *testing.T) {
	lex := NewLexicon()
	hits := lex.Scan("read out your credit card number")
	if !hitTerms(hits)["credit card"] {
		t.Fatalf("phrase term not matched, got %v", hits)
	}
}

func TestLexiconScan_FuzzyMisspelling(t *testing.T) {
	lex := NewLexicon()
	hits := lex.Scan("tell me your pasword")

	found := false
	for _, h := range hits {
		if h.Term.Text == "password" {
			found = true
			if h.Matched != "pasword" {
				t.Errorf("matched token = %q, want %q", h.Matched, "pasword")
			}
		}
	}
	if !found {
		t.Fatalf("misspelling not fuzzy-matched, got %v", hits)
	}
}

func TestLexiconScan_ShortTermsExactOnly(t *testing.T) {
	lex := NewLexicon()
	if hits := lex.Scan("top of the morning"); len(hits) != 0 {
		t.Fatalf("short term matched fuzzily: %v", hits)
	}
	if hits := lex.Scan("share the otp"); !hitTerms(hits)["otp"] {
		t.Fatalf("exact short term not matched: %v", hits)
	}
}

func TestLexiconScan_HitsOncePerTerm(t *testing.T) {
	lex := NewLexicon()
	hits := lex.Scan("urgent urgent urgent")
	if len(hits) != 1 {
		t.Fatalf("want 1 hit for repeated term, got %d", len(hits))
	}
}

func TestLexiconScan_CleanText(t *testing.T) {
	lex := NewLexicon()
	if hits := lex.Scan("hello, how is the weather today"); len(hits) != 0 {
		t.Fatalf("unexpected hits in benign text: %v", hits)
	}
}

func TestNewLexicon_CustomTerms(t *testing.T) {
	lex := NewLexicon(Term{Text: "Ghotala", Weight: 0.4, Language: "hi"})
	hits := lex.Scan("this is a ghotala")
	if len(hits) != 1 || hits[0].Term.Language != "hi" {
		t.Fatalf("custom term not matched with language tag, got %v", hits)
	}
	if hitTerms(lex.Scan("share the otp"))["otp"] {
		t.Fatal("custom lexicon should replace the built-in table")
	}
}
