package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"whistlechain/native/bounty"
)

// Format selects the serialisation of an export.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts the format names case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatJSONL:
		return FormatJSONL, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: unsupported export format %q", bounty.ErrInvalidArgument, s)
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/csv"
	}
}

var bountyHeader = []string{
	"id", "creator", "title", "amount", "token_type", "status",
	"verified_claim", "tip_count", "claim_count", "created_at", "closed_at",
}

// Bounties serialises the summaries in the requested format and returns the
// payload with its hex SHA-256 checksum.
func Bounties(format Format, rows []bounty.BountySummary) ([]byte, string, error) {
	switch format {
	case FormatCSV:
		return BountiesCSV(rows)
	case FormatJSONL:
		return BountiesJSONL(rows)
	case FormatParquet:
		return BountiesParquet(rows)
	default:
		return nil, "", fmt.Errorf("%w: unsupported export format %q", bounty.ErrInvalidArgument, format)
	}
}

// BountiesCSV builds a CSV export of bounty summaries.
func BountiesCSV(rows []bounty.BountySummary) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	w := csv.NewWriter(buffer)
	if err := w.Write(bountyHeader); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		if row.Bounty == nil {
			continue
		}
		r := flatten(row)
		record := []string{
			r.ID, r.Creator, r.Title, strconv.FormatUint(r.Amount, 10), r.TokenType, r.Status,
			r.VerifiedClaim, strconv.Itoa(r.TipCount), strconv.Itoa(r.ClaimCount), r.CreatedAt, r.ClosedAt,
		}
		if err := w.Write(record); err != nil {
			return nil, "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	return withChecksum(buffer.Bytes())
}

// BountiesJSONL builds a JSON Lines export of bounty summaries.
func BountiesJSONL(rows []bounty.BountySummary) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		if row.Bounty == nil {
			continue
		}
		if err := encoder.Encode(flatten(row)); err != nil {
			return nil, "", err
		}
	}
	return withChecksum(buffer.Bytes())
}

// BountiesParquet builds a snappy compressed Parquet export.
func BountiesParquet(rows []bounty.BountySummary) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(buffer), new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if row.Bounty == nil {
			continue
		}
		r := flatten(row)
		pr := &parquetRow{
			ID:            r.ID,
			Creator:       r.Creator,
			Title:         r.Title,
			Amount:        strconv.FormatUint(r.Amount, 10),
			TokenType:     r.TokenType,
			Status:        r.Status,
			VerifiedClaim: r.VerifiedClaim,
			TipCount:      int64(r.TipCount),
			ClaimCount:    int64(r.ClaimCount),
			CreatedAt:     r.CreatedAt,
			ClosedAt:      r.ClosedAt,
		}
		if err := pw.Write(pr); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	return withChecksum(buffer.Bytes())
}

// Row is the flattened export record used by the CSV and JSON Lines
// formats.
type Row struct {
	ID            string `json:"id"`
	Creator       string `json:"creator"`
	Title         string `json:"title"`
	Amount        uint64 `json:"amount"`
	TokenType     string `json:"token_type"`
	Status        string `json:"status"`
	VerifiedClaim string `json:"verified_claim,omitempty"`
	TipCount      int    `json:"tip_count"`
	ClaimCount    int    `json:"claim_count"`
	CreatedAt     string `json:"created_at"`
	ClosedAt      string `json:"closed_at,omitempty"`
}

// Amounts are written as decimal strings so the full uint64 range survives.
type parquetRow struct {
	ID            string `parquet:"name=id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Creator       string `parquet:"name=creator, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Title         string `parquet:"name=title, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount        string `parquet:"name=amount, type=UTF8, encoding=PLAIN_DICTIONARY"`
	TokenType     string `parquet:"name=token_type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Status        string `parquet:"name=status, type=UTF8, encoding=PLAIN_DICTIONARY"`
	VerifiedClaim string `parquet:"name=verified_claim, type=UTF8, encoding=PLAIN_DICTIONARY"`
	TipCount      int64  `parquet:"name=tip_count, type=INT64"`
	ClaimCount    int64  `parquet:"name=claim_count, type=INT64"`
	CreatedAt     string `parquet:"name=created_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
	ClosedAt      string `parquet:"name=closed_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

func flatten(row bounty.BountySummary) Row {
	b := row.Bounty
	out := Row{
		ID:         b.ID.Hex(),
		Creator:    b.Creator.String(),
		Title:      b.Title,
		Amount:     b.Amount,
		TokenType:  b.Token.String(),
		Status:     b.Status.String(),
		TipCount:   row.TipCount,
		ClaimCount: row.ClaimCount,
		CreatedAt:  formatUnix(b.CreatedAt),
		ClosedAt:   formatUnix(b.ClosedAt),
	}
	if !b.VerifiedClaim.IsZero() {
		out.VerifiedClaim = b.VerifiedClaim.Hex()
	}
	return out
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func withChecksum(data []byte) ([]byte, string, error) {
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
