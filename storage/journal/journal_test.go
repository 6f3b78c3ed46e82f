package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"coinfort/core/events"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	j.nowFn = func() time.Time { return fixed }
	return j
}

func TestJournalAppendAndList(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	j.Emit(events.AccountOpened{Principal: common.HexToAddress("0x01")})
	j.Emit(events.TransactionClosed{ID: 4})
	seq, err := j.Append(ctx, events.TransactionClosed{ID: 5})
	require.NoError(t, err)
	require.Equal(t, int64(3), seq)

	all, err := j.List(ctx, 0, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, events.TypeAccountOpened, all[0].Type)
	require.Equal(t, "4", all[1].Attributes["id"])

	closed, err := j.List(ctx, 2, events.TypeTransactionClosed, 10)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.Equal(t, int64(3), closed[0].Sequence)
	require.Equal(t, "5", closed[0].Attributes["id"])
}

func TestJournalAudit(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	require.NoError(t, j.InsertAudit(ctx, AuditEntry{RequestID: "r1", Principal: "cf1abc", Method: "POST", Path: "/v1/accounts", Status: 201, Duration: 3 * time.Millisecond}))
	require.NoError(t, j.InsertAudit(ctx, AuditEntry{RequestID: "r2", Method: "GET", Path: "/healthz", Status: 200}))

	total, err := j.AuditCount(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	mine, err := j.AuditCount(ctx, "cf1abc")
	require.NoError(t, err)
	require.Equal(t, int64(1), mine)
}

func TestJournalReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	j.Emit(events.TransactionClosed{ID: 1})
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	entries, err := reopened.List(context.Background(), 0, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
