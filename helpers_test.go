package wisent

import (
	"encoding/binary"
	"fmt"
	"testing"
)

// newTestEnv opens a fresh environment in a temp directory, closed at test
// cleanup.
func newTestEnv(t *testing.T) *Env {
	t.Helper()
	env := NewEnv()
	if err := env.SetGeometry(64 << 20); err != nil {
		t.Fatal(err)
	}
	if err := env.Open(t.TempDir(), EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}

func mustPut(t *testing.T, env *Env, dbi DBI, key, val []byte) {
	t.Helper()
	err := env.Update(func(tx *Txn) error {
		return tx.Put(dbi, key, val, PutFlags{})
	})
	if err != nil {
		t.Fatalf("put %q: %v", key, err)
	}
}

func mustGet(t *testing.T, env *Env, dbi DBI, key []byte) []byte {
	t.Helper()
	var out []byte
	err := env.View(func(tx *Txn) error {
		val, err := tx.Get(dbi, key)
		if err != nil {
			return err
		}
		out = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		t.Fatalf("get %q: %v", key, err)
	}
	return out
}

func u64key(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// nativeU64 encodes n the way IntegerKey databases expect.
func nativeU64(n uint64) []byte {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, n)
	return b
}

func nativeDecodeU64(b []byte) uint64 { return binary.NativeEndian.Uint64(b) }

func seqKey(i int) []byte { return []byte(fmt.Sprintf("key-%08d", i)) }
func seqVal(i int) []byte { return []byte(fmt.Sprintf("val-%08d", i)) }
