package intel

import "testing"

func findEntity(t *testing.T, entities []Entity, kind Kind, value string) Entity {
	t.Helper()
	for _, e := range entities {
		if e.Kind == kind && e.Value == value {
			return e
		}
	}
	t.Fatalf("no %s entity with value %q in %v", kind, value, entities)
	return Entity{}
}

func countKind(entities []Entity, kind Kind) int {
	n := 0
	for _, e := range entities {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestRecognise_PhoneCoalescing(t *testing.T) {
	// The same number in formatted and bare form must canonicalise
	// identically.
	a := recognise("call me at +91-98765-43210")
	b := recognise("the number is 919876543210")

	ea := findEntity(t, a, KindPhone, "919876543210")
	eb := findEntity(t, b, KindPhone, "919876543210")
	if ea.Value != eb.Value {
		t.Fatalf("canonical values differ: %q vs %q", ea.Value, eb.Value)
	}
}

func TestRecognise_BareSubscriberNumber(t *testing.T) {
	got := recognise("my number is 9876543210")
	findEntity(t, got, KindPhone, "919876543210")
	if n := countKind(got, KindBankAccount); n != 0 {
		t.Fatalf("phone run also classified as bank account, got %d", n)
	}
}

func TestRecognise_BankAccount(t *testing.T) {
	got := recognise("transfer to account 123456789012345")
	findEntity(t, got, KindBankAccount, "123456789012345")
}

func TestRecognise_URL(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", "open http://example.com/verify", "http://example.com/verify"},
		{"trailing punctuation", "go to https://Evil.example.com/a.", "https://evil.example.com/a"},
		{"uppercase scheme", "HTTPS://BANK.example.IN/login now", "https://bank.example.in/login"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recognise(tt.text)
			findEntity(t, got, KindURL, tt.want)
		})
	}
}

func TestRecognise_URLDigitsNotClaimed(t *testing.T) {
	got := recognise("visit http://example.com/offer/1234567890")
	if n := countKind(got, KindPhone); n != 0 {
		t.Fatalf("digits inside URL claimed as phone: %v", got)
	}
	if n := countKind(got, KindBankAccount); n != 0 {
		t.Fatalf("digits inside URL claimed as bank account: %v", got)
	}
}

func TestRecognise_UpiVsEmail(t *testing.T) {
	got := recognise("pay victim@paytm or write to scammer@fraud.example.com")

	findEntity(t, got, KindUpiHandle, "victim@paytm")
	findEntity(t, got, KindEmail, "scammer@fraud.example.com")
	if n := countKind(got, KindUpiHandle); n != 1 {
		t.Fatalf("want exactly one upi handle, got %d", n)
	}
}

func TestRecognise_UpiUnknownProviderDropped(t *testing.T) {
	got := recognise("send to someone@nosuchpsp")
	if n := countKind(got, KindUpiHandle); n != 0 {
		t.Fatalf("unknown provider accepted: %v", got)
	}
}

func TestRecognise_Ifsc(t *testing.T) {
	got := recognise("use ifsc sbin0001234 for the transfer")
	findEntity(t, got, KindIfscCode, "SBIN0001234")
}

func TestRecognise_ShortDigitRunsIgnored(t *testing.T) {
	got := recognise("the code is 482913")
	if len(got) != 0 {
		t.Fatalf("want no entities for a 6 digit code, got %v", got)
	}
}

func TestDedupeEntities(t *testing.T) {
	in := []Entity{
		{Kind: KindPhone, Value: "919876543210"},
		{Kind: KindKeyword, Value: "otp"},
		{Kind: KindPhone, Value: "919876543210"},
	}
	got := dedupeEntities(in)
	if len(got) != 2 {
		t.Fatalf("want 2 entities after dedupe, got %d: %v", len(got), got)
	}
}
