package passphrase

import "testing"

func TestSourceUsesEnvironment(t *testing.T) {
	calls := 0
	src := NewSource("WB_PASS").WithLookup(func(key string) (string, bool) {
		calls++
		if key != "WB_PASS" {
			t.Fatalf("unexpected key %s", key)
		}
		return "hunter2", true
	})
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "hunter2" {
			t.Fatalf("unexpected passphrase %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected cached lookup, got %d calls", calls)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	src := NewSource("WB_PASS").WithLookup(func(string) (string, bool) { return "  ", true })
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected blank passphrase to fail")
	}
}
