package locking

// Record-granularity exclusive locks: presence in the table means locked.
// The policy is strict no-wait, so there is no queueing and therefore no
// deadlock handling; a conflicting writer fails immediately at the caller.

type Table struct {
	owners map[int]int32
}

func NewTable() *Table {
	return &Table{owners: make(map[int]int32)}
}

// IsLocked reports whether any transaction holds the record.
func (t *Table) IsLocked(recordID int) bool {
	_, ok := t.owners[recordID]
	return ok
}

// Owner returns the holding transaction id, if any.
func (t *Table) Owner(recordID int) (int32, bool) {
	tx, ok := t.owners[recordID]
	return tx, ok
}

// OwnedBy reports whether the given transaction holds the record.
func (t *Table) OwnedBy(recordID int, tx int32) bool {
	owner, ok := t.owners[recordID]
	return ok && owner == tx
}

func (t *Table) Acquire(recordID int, tx int32) {
	t.owners[recordID] = tx
}

func (t *Table) Release(recordID int) {
	delete(t.owners, recordID)
}

// ReleaseAll drops every lock held by the given transaction.
func (t *Table) ReleaseAll(tx int32) {
	for recordID, owner := range t.owners {
		if owner == tx {
			delete(t.owners, recordID)
		}
	}
}

func (t *Table) Len() int {
	return len(t.owners)
}
