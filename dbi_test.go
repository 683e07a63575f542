package wisent

import (
	"fmt"
	"testing"
)

func TestOpenDBICreateAndReopen(t *testing.T) {
	dir := t.TempDir()
	env := NewEnv()
	if err := env.Open(dir, EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}

	err := env.Update(func(tx *Txn) error {
		dbi, err := tx.OpenDBI("users", DBFlags{}.With(Create))
		if err != nil {
			return err
		}
		return tx.Put(dbi, []byte("alice"), []byte("1"), PutFlags{})
	})
	if err != nil {
		t.Fatal(err)
	}
	env.Close()

	// The database and its contents survive reopening the environment.
	env2 := NewEnv()
	if err := env2.Open(dir, EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	defer env2.Close()
	err = env2.View(func(tx *Txn) error {
		dbi, err := tx.OpenDBI("users", DBFlags{})
		if err != nil {
			return err
		}
		val, err := tx.Get(dbi, []byte("alice"))
		if err != nil {
			return err
		}
		if string(val) != "1" {
			t.Fatalf("val = %q", val)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenDBIMissingWithoutCreate(t *testing.T) {
	env := newTestEnv(t)
	err := env.View(func(tx *Txn) error {
		_, err := tx.OpenDBI("nope", DBFlags{})
		return err
	})
	if !IsNotFound(err) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestOpenDBIFlagMismatch(t *testing.T) {
	env := newTestEnv(t)
	err := env.Update(func(tx *Txn) error {
		_, err := tx.OpenDBI("d", DBFlags{}.With(Create, DupSort))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	err = env.View(func(tx *Txn) error {
		_, err := tx.OpenDBI("d", DBFlags{})
		return err
	})
	if CodeOf(err) != ErrIncompatible {
		t.Fatalf("flag mismatch: got %v, want ErrIncompatible", err)
	}
}

func TestOpenDBIValueCollision(t *testing.T) {
	env := newTestEnv(t)
	mustPut(t, env, MainDBI, []byte("plain"), []byte("value"))
	err := env.Update(func(tx *Txn) error {
		_, err := tx.OpenDBI("plain", DBFlags{}.With(Create))
		return err
	})
	if CodeOf(err) != ErrIncompatible {
		t.Fatalf("opening a plain key as a database: got %v, want ErrIncompatible", err)
	}
}

func TestOpenDBILimit(t *testing.T) {
	env := NewEnv()
	if err := env.SetMaxDBs(2); err != nil {
		t.Fatal(err)
	}
	if err := env.Open(t.TempDir(), EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	err := env.Update(func(tx *Txn) error {
		for i := 0; i < 2; i++ {
			if _, err := tx.OpenDBI(fmt.Sprintf("db%d", i), DBFlags{}.With(Create)); err != nil {
				return err
			}
		}
		_, err := tx.OpenDBI("one-too-many", DBFlags{}.With(Create))
		if CodeOf(err) != ErrDBsFull {
			t.Fatalf("got %v, want ErrDBsFull", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenDBIAbortUnregistersCreated(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginTxn(nil, TxnFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.OpenDBI("ephemeral", DBFlags{}.With(Create)); err != nil {
		t.Fatal(err)
	}
	tx.Abort()

	err = env.View(func(tx *Txn) error {
		_, err := tx.OpenDBI("ephemeral", DBFlags{})
		return err
	})
	if !IsNotFound(err) {
		t.Fatalf("handle survived abort: %v", err)
	}
}

func TestDropEmptiesDatabase(t *testing.T) {
	env := newTestEnv(t)
	var dbi DBI
	err := env.Update(func(tx *Txn) error {
		var err error
		dbi, err = tx.OpenDBI("d", DBFlags{}.With(Create))
		if err != nil {
			return err
		}
		for i := 0; i < 100; i++ {
			if err := tx.Put(dbi, seqKey(i), seqVal(i), PutFlags{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = env.Update(func(tx *Txn) error {
		return tx.Drop(dbi, false)
	})
	if err != nil {
		t.Fatal(err)
	}
	err = env.View(func(tx *Txn) error {
		st, err := tx.Stat(dbi)
		if err != nil {
			return err
		}
		if st.Entries != 0 {
			t.Fatalf("Entries = %d after Drop", st.Entries)
		}
		// The handle itself is still usable.
		_, err = tx.Get(dbi, seqKey(0))
		if !IsNotFound(err) {
			t.Fatalf("get after drop: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDropDeletesDatabase(t *testing.T) {
	env := newTestEnv(t)
	var dbi DBI
	err := env.Update(func(tx *Txn) error {
		var err error
		dbi, err = tx.OpenDBI("gone", DBFlags{}.With(Create))
		if err != nil {
			return err
		}
		return tx.Put(dbi, []byte("k"), []byte("v"), PutFlags{})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = env.Update(func(tx *Txn) error {
		return tx.Drop(dbi, true)
	})
	if err != nil {
		t.Fatal(err)
	}
	err = env.View(func(tx *Txn) error {
		_, err := tx.OpenDBI("gone", DBFlags{})
		return err
	})
	if !IsNotFound(err) {
		t.Fatalf("database still openable after delete: %v", err)
	}
}

func TestDropProtectsCoreDatabases(t *testing.T) {
	env := newTestEnv(t)
	err := env.Update(func(tx *Txn) error {
		if err := tx.Drop(FreeDBI, false); CodeOf(err) != ErrBadDBI {
			t.Fatalf("drop free tree: got %v, want ErrBadDBI", err)
		}
		if err := tx.Drop(MainDBI, true); CodeOf(err) != ErrBadDBI {
			t.Fatalf("delete main: got %v, want ErrBadDBI", err)
		}
		// Emptying main is allowed.
		return tx.Drop(MainDBI, false)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSequence(t *testing.T) {
	env := newTestEnv(t)
	err := env.Update(func(tx *Txn) error {
		v, err := tx.Sequence(MainDBI, 0)
		if err != nil || v != 0 {
			t.Fatalf("initial sequence = %d, %v", v, err)
		}
		v, err = tx.Sequence(MainDBI, 5)
		if err != nil || v != 0 {
			t.Fatalf("first increment returned %d, %v", v, err)
		}
		v, err = tx.Sequence(MainDBI, 5)
		if err != nil || v != 5 {
			t.Fatalf("second increment returned %d, %v", v, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Persisted across transactions.
	err = env.View(func(tx *Txn) error {
		v, err := tx.Sequence(MainDBI, 0)
		if err != nil || v != 10 {
			t.Fatalf("sequence after commit = %d, %v", v, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Overflow is rejected without moving the counter.
	err = env.Update(func(tx *Txn) error {
		if _, err := tx.Sequence(MainDBI, ^uint64(0)); CodeOf(err) != ErrInvalid {
			t.Fatalf("overflowing increment: got %v, want ErrInvalid", err)
		}
		v, _ := tx.Sequence(MainDBI, 0)
		if v != 10 {
			t.Fatalf("counter moved to %d on failed increment", v)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Read-only transactions cannot increment.
	err = env.View(func(tx *Txn) error {
		_, err := tx.Sequence(MainDBI, 1)
		return err
	})
	if CodeOf(err) != ErrPermissionDenied {
		t.Fatalf("read-only increment: got %v, want ErrPermissionDenied", err)
	}
}

func TestIntegerKeyOrdering(t *testing.T) {
	env := newTestEnv(t)
	var dbi DBI
	err := env.Update(func(tx *Txn) error {
		var err error
		dbi, err = tx.OpenDBI("ints", DBFlags{}.With(Create, IntegerKey))
		if err != nil {
			return err
		}
		// Insert out of numeric order; 256 vs 1 would invert under a
		// lexicographic little-endian comparison.
		for _, n := range []uint64{256, 1, 65536, 2} {
			if err := tx.Put(dbi, nativeU64(n), []byte("v"), PutFlags{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = env.View(func(tx *Txn) error {
		c, err := tx.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer c.Close()
		want := []uint64{1, 2, 256, 65536}
		i := 0
		for key, _, err := c.First(); err == nil; key, _, err = c.Next() {
			if got := nativeDecodeU64(key); got != want[i] {
				t.Fatalf("position %d: got %d, want %d", i, got, want[i])
			}
			i++
		}
		if i != len(want) {
			t.Fatalf("scanned %d keys", i)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReverseKeyOrdering(t *testing.T) {
	env := newTestEnv(t)
	var dbi DBI
	err := env.Update(func(tx *Txn) error {
		var err error
		dbi, err = tx.OpenDBI("rev", DBFlags{}.With(Create, ReverseKey))
		if err != nil {
			return err
		}
		for _, k := range []string{"az", "by", "cx"} {
			if err := tx.Put(dbi, []byte(k), []byte("v"), PutFlags{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = env.View(func(tx *Txn) error {
		c, err := tx.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer c.Close()
		// Suffix comparison: x < y < z.
		want := []string{"cx", "by", "az"}
		i := 0
		for key, _, err := c.First(); err == nil; key, _, err = c.Next() {
			if string(key) != want[i] {
				t.Fatalf("position %d: %q, want %q", i, key, want[i])
			}
			i++
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
