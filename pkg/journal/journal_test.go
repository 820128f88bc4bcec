package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFile(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.json"))
	require.NoError(t, err)
	assert.Empty(t, j.List())
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestRecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.json")
	j, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, j.Record(Entry{
		Hash:      "0xABC",
		Kind:      KindSwap,
		ChainID:   42161,
		FromToken: "ETH",
		ToToken:   "USDC",
		Amount:    "1.5",
	}))

	e, ok := j.Get("0xabc")
	require.True(t, ok)
	assert.Equal(t, StatusPending, e.Status)
	assert.False(t, e.Created.IsZero())

	require.NoError(t, j.UpdateStatus("0xAbC", StatusConfirmed, 77))

	reopened, err := Open(path)
	require.NoError(t, err)
	e, ok = reopened.Get("0xabc")
	require.True(t, ok)
	assert.Equal(t, StatusConfirmed, e.Status)
	assert.Equal(t, uint64(77), e.BlockNumber)
	assert.Equal(t, "USDC", e.ToToken)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestUpdateUnknownHash(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.json"))
	require.NoError(t, err)
	assert.Error(t, j.UpdateStatus("0xdead", StatusReverted, 0))
}

func TestRecordRequiresHash(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.json"))
	require.NoError(t, err)
	assert.Error(t, j.Record(Entry{Kind: KindApprove}))
}

func TestListOrderAndFilter(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.json"))
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.Record(Entry{Hash: "0x01", Kind: KindApprove, Created: base}))
	require.NoError(t, j.Record(Entry{Hash: "0x02", Kind: KindSwap, Created: base.Add(time.Minute)}))
	require.NoError(t, j.Record(Entry{Hash: "0x03", Kind: KindSwap, Created: base.Add(2 * time.Minute), Status: StatusUnknown}))

	list := j.List()
	require.Len(t, list, 3)
	assert.Equal(t, "0x03", list[0].Hash)
	assert.Equal(t, "0x01", list[2].Hash)

	pending := j.ListByStatus(StatusPending)
	require.Len(t, pending, 2)
	assert.Equal(t, "0x02", pending[0].Hash)
}
