package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"

	"whistlechain/native/bounty"
)

func sampleSummaries() []bounty.BountySummary {
	open := &bounty.Bounty{
		ID:        bounty.DeriveBountyID("alice", 0),
		Creator:   "alice",
		Title:     "Leaked invoices, Q3",
		Amount:    1000,
		Token:     bounty.TokenNative,
		Status:    bounty.BountyOpen,
		CreatedAt: 1_700_000_000,
	}
	closed := &bounty.Bounty{
		ID:            bounty.DeriveBountyID("bob", 0),
		Creator:       "bob",
		Title:         "Shipping manifests",
		Amount:        500,
		Token:         bounty.TokenStable,
		Status:        bounty.BountyClosed,
		VerifiedClaim: bounty.DeriveClaimID(bounty.DeriveBountyID("bob", 0), "carol"),
		CreatedAt:     1_700_000_100,
		ClosedAt:      1_700_000_200,
	}
	return []bounty.BountySummary{
		{Bounty: open, TipCount: 2, ClaimCount: 1},
		{Bounty: nil},
		{Bounty: closed, TipCount: 0, ClaimCount: 3},
	}
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestBountiesCSV(t *testing.T) {
	data, checksum, err := BountiesCSV(sampleSummaries())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if checksum != checksumOf(data) {
		t.Fatalf("checksum mismatch")
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(bountyHeader, ",") {
		t.Fatalf("unexpected header %v", records[0])
	}
	if records[1][2] != "Leaked invoices, Q3" || records[1][7] != "2" {
		t.Fatalf("unexpected first row %v", records[1])
	}
	if records[2][5] != "closed" || records[2][10] != "2023-11-14T22:16:40Z" {
		t.Fatalf("unexpected second row %v", records[2])
	}
}

func TestBountiesJSONL(t *testing.T) {
	data, checksum, err := BountiesJSONL(sampleSummaries())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if checksum != checksumOf(data) {
		t.Fatalf("checksum mismatch")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"status":"open"`) || strings.Contains(lines[0], "closed_at") {
		t.Fatalf("unexpected first line %s", lines[0])
	}
	if !strings.Contains(lines[1], `"token_type":"STABLE"`) {
		t.Fatalf("unexpected second line %s", lines[1])
	}
}

func TestBountiesParquetRoundTrip(t *testing.T) {
	data, checksum, err := BountiesParquet(sampleSummaries())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if checksum != checksumOf(data) {
		t.Fatalf("checksum mismatch")
	}
	fr := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer pr.ReadStop()
	if n := pr.GetNumRows(); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
	rows := make([]parquetRow, 2)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if rows[0].Amount != "1000" || rows[1].ClaimCount != 3 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if rows[0].Title != "Leaked invoices, Q3" || rows[0].Status != "open" || rows[0].VerifiedClaim != "" {
		t.Fatalf("unexpected open row %+v", rows[0])
	}
	if rows[1].TokenType != "STABLE" || rows[1].ClosedAt == "" || rows[1].VerifiedClaim == "" {
		t.Fatalf("unexpected closed row %+v", rows[1])
	}
}

func TestBountiesDispatchesParquet(t *testing.T) {
	data, _, err := Bounties(FormatParquet, sampleSummaries())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Fatalf("missing parquet magic")
	}
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{"": FormatCSV, "CSV": FormatCSV, "jsonl": FormatJSONL, " Parquet ": FormatParquet} {
		got, err := ParseFormat(input)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, bounty.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, _, err := Bounties(Format("xml"), nil); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
