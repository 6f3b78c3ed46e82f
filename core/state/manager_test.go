package state

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"coinfort/storage"
)

type record struct {
	Name   string
	Amount *big.Int
	Closed bool
}

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db), db
}

func TestManagerKVRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)

	var missing record
	ok, err := mgr.KVGet([]byte("rec/1"), &missing)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key to report ok=false")
	}

	if err := mgr.KVPut([]byte("rec/1"), &record{Name: "one", Amount: big.NewInt(500), Closed: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got record
	ok, err = mgr.KVGet([]byte("rec/1"), &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Name != "one" || got.Amount.Cmp(big.NewInt(500)) != 0 || !got.Closed {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := mgr.KVDelete([]byte("rec/1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = mgr.KVGet([]byte("rec/1"), nil)
	if err != nil || ok {
		t.Fatalf("expected deleted key to be gone: ok=%v err=%v", ok, err)
	}
}

func TestManagerRejectsEmptyKey(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
	if _, err := mgr.KVGet([]byte{}, nil); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestTxIsolationUntilCommit(t *testing.T) {
	mgr, _ := newTestManager(t)
	tx := mgr.Begin()
	if err := tx.KVPut([]byte("counter"), uint64(7)); err != nil {
		t.Fatalf("stage: %v", err)
	}

	var inside uint64
	if ok, err := tx.KVGet([]byte("counter"), &inside); err != nil || !ok || inside != 7 {
		t.Fatalf("tx should read its own write: ok=%v err=%v val=%d", ok, err, inside)
	}
	if ok, _ := mgr.KVGet([]byte("counter"), nil); ok {
		t.Fatalf("staged write leaked before commit")
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	var outside uint64
	if ok, err := mgr.KVGet([]byte("counter"), &outside); err != nil || !ok || outside != 7 {
		t.Fatalf("committed write not visible: ok=%v err=%v val=%d", ok, err, outside)
	}
	if err := tx.KVPut([]byte("counter"), uint64(8)); err == nil {
		t.Fatalf("expected writes after commit to fail")
	}
}

func TestTxDiscardLeavesNoTrace(t *testing.T) {
	mgr, db := newTestManager(t)
	before := len(db.Keys())

	err := mgr.Update(func(kv KV) error {
		if err := kv.KVPut([]byte("a"), uint64(1)); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected callback error, got %v", err)
	}
	if after := len(db.Keys()); after != before {
		t.Fatalf("discarded tx wrote %d keys", after-before)
	}
}

func TestTxDeleteShadowsCommittedValue(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.KVPut([]byte("k"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	tx := mgr.Begin()
	if err := tx.KVDelete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := tx.KVGet([]byte("k"), nil); ok {
		t.Fatalf("staged delete should hide committed value")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("k"), nil); ok {
		t.Fatalf("delete not applied")
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr, _ := newTestManager(t)
	key := []byte("index")
	for _, v := range [][]byte{{1}, {2}, {1}} {
		if err := KVAppend(mgr, key, v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := KVGetList(mgr, key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}

	var empty [][]byte
	if err := KVGetList(mgr, []byte("nothing"), &empty); err != nil {
		t.Fatalf("get empty list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice")
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	mgr, _ := newTestManager(t)
	key := []byte("counter")
	const writers = 32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- mgr.Update(func(kv KV) error {
				var n uint64
				if _, err := kv.KVGet(key, &n); err != nil {
					return err
				}
				return kv.KVPut(key, n+1)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	var total uint64
	if ok, err := mgr.KVGet(key, &total); err != nil || !ok {
		t.Fatalf("read counter: ok=%v err=%v", ok, err)
	}
	if total != writers {
		t.Fatalf("expected %d increments, got %d", writers, total)
	}
}

func TestDirectWriteWaitsForUpdate(t *testing.T) {
	mgr, _ := newTestManager(t)
	key := []byte("k")
	entered := make(chan struct{})
	release := make(chan struct{})
	updated := make(chan error, 1)
	go func() {
		updated <- mgr.Update(func(kv KV) error {
			close(entered)
			<-release
			return kv.KVPut(key, uint64(1))
		})
	}()
	<-entered

	wrote := make(chan error, 1)
	go func() { wrote <- mgr.KVPut(key, uint64(2)) }()
	select {
	case <-wrote:
		t.Fatal("direct write completed while an update was open")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-updated; err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := <-wrote; err != nil {
		t.Fatalf("direct write: %v", err)
	}
	var got uint64
	if _, err := mgr.KVGet(key, &got); err != nil || got != 2 {
		t.Fatalf("expected the later write to win, got %d err=%v", got, err)
	}
}
