package evidence

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"

	"whistlechain/native/bounty"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir(), 0)
	require.NoError(t, err)

	payload := []byte("ciphertext-bytes")
	ref, err := store.Put(bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, blake3.Sum256(payload), ref.Digest)
	require.Equal(t, int64(len(payload)), ref.Size)
	require.True(t, strings.HasPrefix(ref.String(), RefPrefix))
	require.LessOrEqual(t, len(ref.String()), bounty.MaxEvidenceReferenceBytes)

	parsed, err := ParseRef(ref.String())
	require.NoError(t, err)
	require.Equal(t, ref.Digest, parsed.Digest)

	rc, size, err := store.Get(parsed)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, int64(len(payload)), size)
}

func TestPutDeduplicates(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 0)
	require.NoError(t, err)
	first, err := store.Put(strings.NewReader("same"))
	require.NoError(t, err)
	second, err := store.Put(strings.NewReader("same"))
	require.NoError(t, err)
	require.Equal(t, first, second)

	var files int
	require.NoError(t, filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files++
		}
		return err
	}))
	require.Equal(t, 1, files)
}

func TestPutRejectsOversizedAndEmpty(t *testing.T) {
	store, err := Open(t.TempDir(), 4)
	require.NoError(t, err)
	_, err = store.Put(strings.NewReader("12345"))
	require.ErrorIs(t, err, ErrTooLarge)
	_, err = store.Put(strings.NewReader(""))
	require.ErrorIs(t, err, bounty.ErrInvalidArgument)
	_, err = store.Put(strings.NewReader("1234"))
	require.NoError(t, err)
}

func TestGetMissing(t *testing.T) {
	store, err := Open(t.TempDir(), 0)
	require.NoError(t, err)
	_, _, err = store.Get(Ref{Digest: blake3.Sum256([]byte("absent"))})
	require.True(t, errors.Is(err, bounty.ErrNotFound))
	require.False(t, store.Has(Ref{}))
}

func TestParseRefRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "sha256:abcd", "b3:zz", "b3:abcd"} {
		_, err := ParseRef(input)
		require.ErrorIs(t, err, bounty.ErrInvalidArgument, input)
	}
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open("  ", 0)
	require.Error(t, err)
}
