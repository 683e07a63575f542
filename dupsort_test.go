package wisent

import (
	"bytes"
	"fmt"
	"testing"
)

func openDupDB(t *testing.T, env *Env) DBI {
	t.Helper()
	var dbi DBI
	err := env.Update(func(tx *Txn) error {
		var err error
		dbi, err = tx.OpenDBI("dup", DBFlags{}.With(Create, DupSort))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return dbi
}

func TestDupSortBasic(t *testing.T) {
	env := newTestEnv(t)
	dbi := openDupDB(t, env)

	err := env.Update(func(tx *Txn) error {
		for _, v := range []string{"v3", "v1", "v2"} {
			if err := tx.Put(dbi, []byte("k"), []byte(v), PutFlags{}); err != nil {
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

		// Duplicates come back in value order.
		var got []string
		for key, val, err := c.First(); err == nil; key, val, err = c.Next() {
			if string(key) != "k" {
				t.Fatalf("unexpected key %q", key)
			}
			got = append(got, string(val))
		}
		want := []string{"v1", "v2", "v3"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("dup order = %v, want %v", got, want)
		}

		if _, _, err := c.First(); err != nil {
			return err
		}
		n, err := c.Count()
		if err != nil || n != 3 {
			t.Fatalf("Count = %d, %v", n, err)
		}

		// Get returns the first duplicate.
		val, err := tx.Get(dbi, []byte("k"))
		if err != nil || string(val) != "v1" {
			t.Fatalf("Get = %q, %v", val, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDupSortStatCountsAllValues(t *testing.T) {
	env := newTestEnv(t)
	dbi := openDupDB(t, env)
	err := env.Update(func(tx *Txn) error {
		for k := 0; k < 10; k++ {
			for v := 0; v < 7; v++ {
				key := []byte(fmt.Sprintf("k%02d", k))
				val := []byte(fmt.Sprintf("v%02d", v))
				if err := tx.Put(dbi, key, val, PutFlags{}); err != nil {
					return err
				}
			}
		}
		st, err := tx.Stat(dbi)
		if err != nil {
			return err
		}
		if st.Entries != 70 {
			t.Fatalf("Entries = %d, want 70", st.Entries)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDupSortNextPrevDup(t *testing.T) {
	env := newTestEnv(t)
	dbi := openDupDB(t, env)
	err := env.Update(func(tx *Txn) error {
		for _, kv := range [][2]string{
			{"a", "1"}, {"a", "2"}, {"a", "3"},
			{"b", "9"},
		} {
			if err := tx.Put(dbi, []byte(kv[0]), []byte(kv[1]), PutFlags{}); err != nil {
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

		if _, _, err := c.SeekExact([]byte("a")); err != nil {
			return err
		}
		_, val, err := c.NextDup()
		if err != nil || string(val) != "2" {
			t.Fatalf("NextDup = %q, %v", val, err)
		}
		_, val, err = c.NextDup()
		if err != nil || string(val) != "3" {
			t.Fatalf("NextDup = %q, %v", val, err)
		}
		if _, _, err := c.NextDup(); !IsNotFound(err) {
			t.Fatalf("NextDup past last dup: %v", err)
		}
		// NextDup stops at the key boundary; NextNoDup crosses it.
		key, val, err := c.NextNoDup()
		if err != nil || string(key) != "b" || string(val) != "9" {
			t.Fatalf("NextNoDup = %q=%q, %v", key, val, err)
		}

		_, val, err = c.LastDup()
		if err != nil || string(val) != "9" {
			t.Fatalf("LastDup = %q, %v", val, err)
		}
		key, _, err = c.PrevNoDup()
		if err != nil || string(key) != "a" {
			t.Fatalf("PrevNoDup = %q, %v", key, err)
		}
		_, val, err = c.PrevDup()
		if err != nil || string(val) != "2" {
			// PrevNoDup lands on the last dup of the previous key.
			t.Fatalf("PrevDup = %q, %v", val, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDupSortGetBoth(t *testing.T) {
	env := newTestEnv(t)
	dbi := openDupDB(t, env)
	err := env.Update(func(tx *Txn) error {
		for _, v := range []string{"bb", "dd", "ff"} {
			if err := tx.Put(dbi, []byte("k"), []byte(v), PutFlags{}); err != nil {
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

		_, val, err := c.GetBoth([]byte("k"), []byte("dd"))
		if err != nil || string(val) != "dd" {
			t.Fatalf("GetBoth(dd) = %q, %v", val, err)
		}
		if _, _, err := c.GetBoth([]byte("k"), []byte("cc")); !IsNotFound(err) {
			t.Fatalf("GetBoth(cc) = %v, want ErrNotFound", err)
		}
		_, val, err = c.GetBothRange([]byte("k"), []byte("cc"))
		if err != nil || string(val) != "dd" {
			t.Fatalf("GetBothRange(cc) = %q, %v", val, err)
		}
		if _, _, err := c.GetBothRange([]byte("k"), []byte("zz")); !IsNotFound(err) {
			t.Fatalf("GetBothRange(zz) = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDupSortGetBothSingleInlineValue(t *testing.T) {
	env := newTestEnv(t)
	dbi := openDupDB(t, env)
	mustPut(t, env, dbi, []byte("k"), []byte("only"))

	err := env.View(func(tx *Txn) error {
		c, err := tx.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer c.Close()
		_, val, err := c.GetBoth([]byte("k"), []byte("only"))
		if err != nil || string(val) != "only" {
			t.Fatalf("GetBoth inline = %q, %v", val, err)
		}
		if _, _, err := c.GetBoth([]byte("k"), []byte("other")); !IsNotFound(err) {
			t.Fatalf("GetBoth wrong value: %v", err)
		}
		_, val, err = c.GetBothRange([]byte("k"), []byte("a"))
		if err != nil || string(val) != "only" {
			t.Fatalf("GetBothRange inline = %q, %v", val, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDupSortDeleteSingleValueAndAll(t *testing.T) {
	env := newTestEnv(t)
	dbi := openDupDB(t, env)
	err := env.Update(func(tx *Txn) error {
		for _, v := range []string{"1", "2", "3"} {
			if err := tx.Put(dbi, []byte("k"), []byte(v), PutFlags{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Delete one pair; the others survive.
	err = env.Update(func(tx *Txn) error {
		return tx.Del(dbi, []byte("k"), []byte("2"))
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
		if _, _, err := c.First(); err != nil {
			return err
		}
		n, err := c.Count()
		if err != nil || n != 2 {
			t.Fatalf("Count after single delete = %d, %v", n, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Delete down to one value: the entry collapses back to an inline node
	// but reads stay identical.
	err = env.Update(func(tx *Txn) error {
		return tx.Del(dbi, []byte("k"), []byte("3"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, env, dbi, []byte("k")); string(got) != "1" {
		t.Fatalf("after collapse: %q", got)
	}

	// Delete the whole key.
	err = env.Update(func(tx *Txn) error {
		return tx.Del(dbi, []byte("k"), nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	err = env.View(func(tx *Txn) error {
		_, err := tx.Get(dbi, []byte("k"))
		return err
	})
	if !IsNotFound(err) {
		t.Fatalf("key survived full delete: %v", err)
	}
}

func TestDupSortDelAllRemovesEveryValue(t *testing.T) {
	env := newTestEnv(t)
	dbi := openDupDB(t, env)
	err := env.Update(func(tx *Txn) error {
		for v := 0; v < 50; v++ {
			if err := tx.Put(dbi, []byte("k"), []byte(fmt.Sprintf("v%03d", v)), PutFlags{}); err != nil {
				return err
			}
		}
		if err := tx.Put(dbi, []byte("other"), []byte("x"), PutFlags{}); err != nil {
			return err
		}
		return tx.Del(dbi, []byte("k"), nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	err = env.View(func(tx *Txn) error {
		st, err := tx.Stat(dbi)
		if err != nil {
			return err
		}
		if st.Entries != 1 {
			t.Fatalf("Entries = %d, want 1", st.Entries)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDupSortNoDupDataFlag(t *testing.T) {
	env := newTestEnv(t)
	dbi := openDupDB(t, env)
	err := env.Update(func(tx *Txn) error {
		nd := PutFlags{}.With(NoDupData)
		if err := tx.Put(dbi, []byte("k"), []byte("v"), nd); err != nil {
			return err
		}
		if err := tx.Put(dbi, []byte("k"), []byte("v"), nd); CodeOf(err) != ErrKeyExist {
			t.Fatalf("duplicate pair with NoDupData: got %v, want ErrKeyExist", err)
		}
		// A different value under the same key is fine.
		return tx.Put(dbi, []byte("k"), []byte("w"), nd)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDupSortRejectsOversizedValues(t *testing.T) {
	env := newTestEnv(t)
	dbi := openDupDB(t, env)
	err := env.Update(func(tx *Txn) error {
		big := bytes.Repeat([]byte("v"), env.MaxKeySize()+1)
		if err := tx.Put(dbi, []byte("k"), big, PutFlags{}); CodeOf(err) != ErrBadValSize {
			t.Fatalf("oversized dup value: got %v, want ErrBadValSize", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDupSortManyKeysManyValues(t *testing.T) {
	env := newTestEnv(t)
	dbi := openDupDB(t, env)
	const keys, vals = 40, 30

	err := env.Update(func(tx *Txn) error {
		for k := 0; k < keys; k++ {
			for v := 0; v < vals; v++ {
				key := []byte(fmt.Sprintf("key-%04d", k))
				val := []byte(fmt.Sprintf("value-%04d", v))
				if err := tx.Put(dbi, key, val, PutFlags{}); err != nil {
					return err
				}
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
		total := 0
		for _, _, err := c.First(); err == nil; _, _, err = c.Next() {
			total++
		}
		if total != keys*vals {
			t.Fatalf("scanned %d pairs, want %d", total, keys*vals)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
