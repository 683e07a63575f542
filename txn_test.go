package wisent

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTxnSnapshotIsolation(t *testing.T) {
	env := newTestEnv(t)
	mustPut(t, env, MainDBI, []byte("k"), []byte("old"))

	rtx, err := env.BeginTxn(nil, TxnFlags{}.With(TxnReadOnly))
	if err != nil {
		t.Fatal(err)
	}
	defer rtx.Abort()

	mustPut(t, env, MainDBI, []byte("k"), []byte("new"))
	mustPut(t, env, MainDBI, []byte("k2"), []byte("added"))

	if val, err := rtx.Get(MainDBI, []byte("k")); err != nil || string(val) != "old" {
		t.Fatalf("snapshot sees %q (%v), want %q", val, err, "old")
	}
	if _, err := rtx.Get(MainDBI, []byte("k2")); !IsNotFound(err) {
		t.Fatalf("snapshot sees a later key: %v", err)
	}
	if got := mustGet(t, env, MainDBI, []byte("k")); string(got) != "new" {
		t.Fatalf("fresh read sees %q, want %q", got, "new")
	}
}

func TestTxnAbortDiscards(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginTxn(nil, TxnFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Put(MainDBI, []byte("k"), []byte("v"), PutFlags{}); err != nil {
		t.Fatal(err)
	}
	tx.Abort()

	err = env.View(func(tx *Txn) error {
		_, err := tx.Get(MainDBI, []byte("k"))
		return err
	})
	if !IsNotFound(err) {
		t.Fatalf("aborted write visible: %v", err)
	}
}

func TestTxnUseAfterFinish(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginTxn(nil, TxnFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := tx.Put(MainDBI, []byte("k"), []byte("v"), PutFlags{}); CodeOf(err) != ErrBadTxn {
		t.Fatalf("put on finished txn: got %v, want ErrBadTxn", err)
	}
	if err := tx.Commit(); CodeOf(err) != ErrBadTxn {
		t.Fatalf("double commit: got %v, want ErrBadTxn", err)
	}
	tx.Abort() // no-op, must not panic
}

func TestTxnReadOnlyCommitReleasesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginTxn(nil, TxnFlags{}.With(TxnReadOnly))
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("read-only commit: %v", err)
	}
	info, _ := env.Info()
	if info.NumReaders != 0 {
		t.Fatalf("reader slot leaked: %d readers", info.NumReaders)
	}
}

func TestTxnSingleWriter(t *testing.T) {
	env := newTestEnv(t)
	tx1, err := env.BeginTxn(nil, TxnFlags{})
	if err != nil {
		t.Fatal(err)
	}

	var second atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tx2, err := env.BeginTxn(nil, TxnFlags{})
		if err != nil {
			t.Error(err)
			return
		}
		second.Store(true)
		tx2.Abort()
	}()

	time.Sleep(50 * time.Millisecond)
	if second.Load() {
		t.Fatal("second writer started while the first was active")
	}
	tx1.Abort()
	wg.Wait()
	if !second.Load() {
		t.Fatal("second writer never ran")
	}
}

func TestTxnNestedCommit(t *testing.T) {
	env := newTestEnv(t)
	parent, err := env.BeginTxn(nil, TxnFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if err := parent.Put(MainDBI, []byte("p"), []byte("1"), PutFlags{}); err != nil {
		t.Fatal(err)
	}

	child, err := env.BeginTxn(parent, TxnFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if err := child.Put(MainDBI, []byte("c"), []byte("2"), PutFlags{}); err != nil {
		t.Fatal(err)
	}
	// The child sees the parent's uncommitted write.
	if val, err := child.Get(MainDBI, []byte("p")); err != nil || string(val) != "1" {
		t.Fatalf("child read of parent write: %q, %v", val, err)
	}
	// The parent is frozen while the child runs.
	if err := parent.Put(MainDBI, []byte("x"), []byte("y"), PutFlags{}); CodeOf(err) != ErrIllegalState {
		t.Fatalf("parent write with open child: got %v, want ErrIllegalState", err)
	}

	if err := child.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := parent.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, env, MainDBI, []byte("c")); string(got) != "2" {
		t.Fatalf("folded child write = %q", got)
	}
	if got := mustGet(t, env, MainDBI, []byte("p")); string(got) != "1" {
		t.Fatalf("parent write = %q", got)
	}
}

func TestTxnNestedAbort(t *testing.T) {
	env := newTestEnv(t)
	mustPut(t, env, MainDBI, []byte("base"), []byte("v"))

	parent, err := env.BeginTxn(nil, TxnFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if err := parent.Put(MainDBI, []byte("p"), []byte("1"), PutFlags{}); err != nil {
		t.Fatal(err)
	}
	child, err := env.BeginTxn(parent, TxnFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if err := child.Put(MainDBI, []byte("c"), []byte("2"), PutFlags{}); err != nil {
		t.Fatal(err)
	}
	if err := child.Del(MainDBI, []byte("base"), nil); err != nil {
		t.Fatal(err)
	}
	child.Abort()

	// The parent state is exactly as before the child began.
	if val, err := parent.Get(MainDBI, []byte("p")); err != nil || string(val) != "1" {
		t.Fatalf("parent write lost: %q, %v", val, err)
	}
	if _, err := parent.Get(MainDBI, []byte("c")); !IsNotFound(err) {
		t.Fatalf("child write survived abort: %v", err)
	}
	if val, err := parent.Get(MainDBI, []byte("base")); err != nil || string(val) != "v" {
		t.Fatalf("child delete survived abort: %q, %v", val, err)
	}
	if err := parent.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, env, MainDBI, []byte("base")); string(got) != "v" {
		t.Fatalf("base = %q after aborted child delete", got)
	}
}

func TestTxnNestedReadOnlyParentRejected(t *testing.T) {
	env := newTestEnv(t)
	rtx, err := env.BeginTxn(nil, TxnFlags{}.With(TxnReadOnly))
	if err != nil {
		t.Fatal(err)
	}
	defer rtx.Abort()
	if _, err := env.BeginTxn(rtx, TxnFlags{}); CodeOf(err) != ErrPermissionDenied {
		t.Fatalf("child of read-only parent: got %v, want ErrPermissionDenied", err)
	}
}

func TestTxnResetRenew(t *testing.T) {
	env := newTestEnv(t)
	mustPut(t, env, MainDBI, []byte("k"), []byte("v1"))

	tx, err := env.BeginTxn(nil, TxnFlags{}.With(TxnReadOnly))
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Abort()

	if err := tx.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Get(MainDBI, []byte("k")); CodeOf(err) != ErrTxnNotReady {
		t.Fatalf("get on reset txn: got %v, want ErrTxnNotReady", err)
	}

	mustPut(t, env, MainDBI, []byte("k"), []byte("v2"))

	if err := tx.Renew(); err != nil {
		t.Fatal(err)
	}
	if val, err := tx.Get(MainDBI, []byte("k")); err != nil || string(val) != "v2" {
		t.Fatalf("renewed txn sees %q (%v), want v2", val, err)
	}
}

func TestTxnRenewWithoutReset(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginTxn(nil, TxnFlags{}.With(TxnReadOnly))
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Abort()
	if err := tx.Renew(); CodeOf(err) != ErrTxnNotReset {
		t.Fatalf("renew without reset: got %v, want ErrTxnNotReset", err)
	}
}

func TestRunTxnAbortsOnPanic(t *testing.T) {
	env := newTestEnv(t)
	func() {
		defer func() { recover() }()
		_ = env.Update(func(tx *Txn) error {
			if err := tx.Put(MainDBI, []byte("k"), []byte("v"), PutFlags{}); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	err := env.View(func(tx *Txn) error {
		_, err := tx.Get(MainDBI, []byte("k"))
		return err
	})
	if !IsNotFound(err) {
		t.Fatalf("write from panicked Update visible: %v", err)
	}
	// The writer lock must have been released.
	mustPut(t, env, MainDBI, []byte("k2"), []byte("v2"))
}

func TestTxnConcurrentReaders(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 50; i++ {
		mustPut(t, env, MainDBI, seqKey(i), seqVal(i))
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := env.View(func(tx *Txn) error {
					val, err := tx.Get(MainDBI, seqKey(i))
					if err != nil {
						return err
					}
					if string(val) != string(seqVal(i)) {
						t.Errorf("key %d: got %q", i, val)
					}
					return nil
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
