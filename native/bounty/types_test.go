package bounty

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseID(t *testing.T) {
	want := DeriveBountyID("alice", 0)
	for _, in := range []string{want.Hex(), strings.TrimPrefix(want.Hex(), "0x"), " " + want.Hex() + " "} {
		got, err := ParseID(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s", in, got)
		}
	}
	for _, in := range []string{"", "0x1234", "zz"} {
		if _, err := ParseID(in); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("parse %q: expected invalid argument, got %v", in, err)
		}
	}
}

func TestStatusEnumsRejectUnknownValues(t *testing.T) {
	if BountyStatus(0).Valid() || BountyStatus(4).Valid() {
		t.Fatalf("unexpected valid bounty status")
	}
	if ClaimStatus(0).Valid() || ClaimStatus(9).Valid() {
		t.Fatalf("unexpected valid claim status")
	}
	if TokenType(0).Valid() {
		t.Fatalf("zero token type must be invalid")
	}
	if _, err := BountyStatus(7).MarshalText(); err == nil {
		t.Fatalf("expected marshal error for unknown status")
	}
	for _, s := range []BountyStatus{BountyOpen, BountyClaimed, BountyClosed} {
		parsed, err := ParseBountyStatus(s.String())
		if err != nil || parsed != s {
			t.Fatalf("round trip %s: %v %v", s, parsed, err)
		}
	}
	for _, s := range []ClaimStatus{ClaimPending, ClaimVerified, ClaimRejected} {
		parsed, err := ParseClaimStatus(strings.ToUpper(s.String()))
		if err != nil || parsed != s {
			t.Fatalf("round trip %s: %v %v", s, parsed, err)
		}
	}
	if _, err := ParseTokenType("gold"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected unknown token to fail, got %v", err)
	}
}

func TestStatusAcceptance(t *testing.T) {
	cases := []struct {
		status BountyStatus
		tips   bool
		claims bool
	}{
		{BountyOpen, true, true},
		{BountyClaimed, false, true},
		{BountyClosed, false, false},
		{BountyStatus(0), false, false},
	}
	for _, tc := range cases {
		if tc.status.AcceptsTips() != tc.tips || tc.status.AcceptsClaims() != tc.claims {
			t.Fatalf("status %s: unexpected acceptance", tc.status)
		}
	}
}

func TestBountyJSONUsesNames(t *testing.T) {
	b := &Bounty{ID: DeriveBountyID("alice", 1), Creator: "alice", Title: "t", Amount: 5, Token: TokenStable, Status: BountyClaimed}
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, fragment := range []string{`"status":"claimed"`, `"tokenType":"STABLE"`, `"id":"` + b.ID.Hex() + `"`} {
		if !strings.Contains(string(raw), fragment) {
			t.Fatalf("expected %s in %s", fragment, raw)
		}
	}
	var decoded Bounty
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != *b {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestCreateBountyParamsLimits(t *testing.T) {
	ok := CreateBountyParams{Title: "t", Amount: 1, Token: TokenNative}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid params: %v", err)
	}
	long := ok
	long.Title = strings.Repeat("x", MaxTitleBytes+1)
	if err := long.Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected title limit, got %v", err)
	}
	long = ok
	long.Description = strings.Repeat("x", MaxDescriptionBytes+1)
	if err := long.Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected description limit, got %v", err)
	}
	edge := ok
	edge.Title = strings.Repeat("x", MaxTitleBytes)
	edge.Description = strings.Repeat("y", MaxDescriptionBytes)
	if err := edge.Validate(); err != nil {
		t.Fatalf("limits are inclusive: %v", err)
	}
}

func TestCreateBountyParamsNormalize(t *testing.T) {
	decomposed := CreateBountyParams{Title: "Cafe\u0301", Description: "re\u0301sume\u0301"}
	got := decomposed.Normalize()
	if got.Title != "Caf\u00e9" || got.Description != "r\u00e9sum\u00e9" {
		t.Fatalf("expected composed text, got %q %q", got.Title, got.Description)
	}
	if len(got.Title) >= len(decomposed.Title) {
		t.Fatalf("expected composed title to be shorter")
	}
}

func TestBountyFilterMatches(t *testing.T) {
	b := &Bounty{Creator: "alice", Status: BountyOpen}
	if !(BountyFilter{}).Matches(b) {
		t.Fatalf("empty filter should match")
	}
	if (BountyFilter{Status: BountyClosed}).Matches(b) {
		t.Fatalf("status filter should not match")
	}
	if !(BountyFilter{Creator: " alice "}).Matches(b) {
		t.Fatalf("creator filter should normalize")
	}
	if (BountyFilter{}).Matches(nil) {
		t.Fatalf("nil bounty should not match")
	}
}
