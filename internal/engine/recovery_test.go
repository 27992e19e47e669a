package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/tinytx/internal/wal"
)

func TestRecoverEmptyLogIsNoop(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Recover())
	require.Equal(t, uint64(0), db.RecordCount())
}

func TestCommittedWorkSurvivesCrashWithoutCheckpoint(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Begin())
	_, err := db.Insert([]byte("Alice"))
	require.NoError(t, err)
	_, err = db.Insert([]byte("Bob"))
	require.NoError(t, err)
	require.NoError(t, db.Commit())

	require.NoError(t, db.Begin())
	require.NoError(t, db.Update(0, []byte("A2")))
	require.NoError(t, db.Commit())

	// Nothing was ever checkpointed: the data pages never reached disk.
	require.NoError(t, db.Crash())
	require.NoError(t, db.Recover())

	require.Equal(t, "A2", readString(t, db, 0))
	require.Equal(t, "Bob", readString(t, db, 1))
	require.Equal(t, uint64(2), db.RecordCount())
}

func TestRecoveryMixedFates(t *testing.T) {
	db := newTestDB(t)
	seed(t, db, "Alice", "Bob", "Charlie")
	require.NoError(t, db.Checkpoint())

	require.NoError(t, db.Begin())
	require.NoError(t, db.Update(0, []byte("A*")))
	require.NoError(t, db.Commit())

	require.NoError(t, db.Begin())
	require.NoError(t, db.Update(1, []byte("B*")))
	_, err := db.Insert([]byte("Dave"))
	require.NoError(t, err)

	require.NoError(t, db.Crash())
	require.False(t, db.InTransaction())
	require.NoError(t, db.Recover())

	require.Equal(t, "A*", readString(t, db, 0))
	require.Equal(t, "Bob", readString(t, db, 1))
	require.Equal(t, "Charlie", readString(t, db, 2))
	require.Equal(t, uint64(3), db.RecordCount())
	_, err = db.Read(3)
	require.ErrorIs(t, err, ErrNotFound)

	// The undone insert is reflected in the persisted header as well.
	count, err := db.store.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)
}

func TestRecoveryIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	seed(t, db, "Alice", "Bob", "Charlie")
	require.NoError(t, db.Checkpoint())

	require.NoError(t, db.Begin())
	require.NoError(t, db.Update(0, []byte("A*")))
	require.NoError(t, db.Commit())

	require.NoError(t, db.Begin())
	require.NoError(t, db.Update(1, []byte("B*")))
	_, err := db.Insert([]byte("Dave"))
	require.NoError(t, err)

	require.NoError(t, db.Crash())
	require.NoError(t, db.Recover())

	snapshot := func() []string {
		var out []string
		for recordID := 0; uint64(recordID) < db.RecordCount(); recordID++ {
			out = append(out, readString(t, db, recordID))
		}
		return out
	}
	first := snapshot()

	require.NoError(t, db.Recover())
	require.Equal(t, first, snapshot())
	require.Equal(t, uint64(3), db.RecordCount())
}

func TestRecoveryScansOnlyAfterLastCheckpoint(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Begin())
	_, err := db.Insert([]byte("Alice"))
	require.NoError(t, err)
	require.NoError(t, db.Commit())
	require.NoError(t, db.Checkpoint())

	// A loser recorded entirely after the checkpoint.
	require.NoError(t, db.Begin())
	require.NoError(t, db.Update(0, []byte("gone")))

	require.NoError(t, db.Crash())
	require.NoError(t, db.Recover())

	require.Equal(t, "Alice", readString(t, db, 0))
	require.Equal(t, uint64(1), db.RecordCount())
}

func TestRecoverAfterReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Begin())
	_, err = db.Insert([]byte("Alice"))
	require.NoError(t, err)
	_, err = db.Insert([]byte("Bob"))
	require.NoError(t, err)
	require.NoError(t, db.Commit())
	require.NoError(t, db.Crash())
	require.NoError(t, db.Close())

	db2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()

	require.NoError(t, db2.Recover())
	require.Equal(t, "Alice", readString(t, db2, 0))
	require.Equal(t, "Bob", readString(t, db2, 1))
}

func TestRecoverToleratesTornTail(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Begin())
	_, err = db.Insert([]byte("Alice"))
	require.NoError(t, err)
	require.NoError(t, db.Commit())
	require.NoError(t, db.Crash())

	// A partial frame at the end, as an interrupted flush would leave.
	logPath := filepath.Join(dir, "tinytx.db.log")
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 120, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, db.Recover())
	require.Equal(t, "Alice", readString(t, db, 0))
}

func TestRecoverAbortsOnCorruptLog(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Begin())
	_, err = db.Insert([]byte("Alice"))
	require.NoError(t, err)
	require.NoError(t, db.Commit())
	require.NoError(t, db.Crash())

	// A complete frame with an impossible length marker.
	logPath := filepath.Join(dir, "tinytx.db.log")
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 2, 0xde, 0xad})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.ErrorIs(t, db.Recover(), wal.ErrCorruptLog)
}

func TestCheckpointAppendsControlRecord(t *testing.T) {
	db := newTestDB(t)
	seed(t, db, "Alice")

	require.NoError(t, db.Begin())
	require.NoError(t, db.Update(0, []byte("v1")))
	require.NoError(t, db.Commit())
	require.NoError(t, db.Checkpoint())

	records, err := db.Log()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	require.Equal(t, wal.KindCheckpoint, last.Kind)
	require.Equal(t, int32(-1), last.TxID)
	require.Equal(t, int32(-1), last.RecordID)

	// LSNs are strictly monotonic across the whole journal.
	for i := 1; i < len(records); i++ {
		require.Greater(t, records[i].LSN, records[i-1].LSN)
	}
}
