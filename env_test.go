package wisent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvOpenCloseReopen(t *testing.T) {
	dir := t.TempDir()
	env := NewEnv()
	if err := env.Open(dir, EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	mustPut(t, env, MainDBI, []byte("k"), []byte("v"))
	if err := env.Close(); err != nil {
		t.Fatal(err)
	}

	env2 := NewEnv()
	if err := env2.Open(dir, EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	defer env2.Close()
	if got := mustGet(t, env2, MainDBI, []byte("k")); string(got) != "v" {
		t.Fatalf("after reopen: got %q, want %q", got, "v")
	}
}

func TestEnvDoubleCloseIsNoop(t *testing.T) {
	env := NewEnv()
	if err := env.Open(t.TempDir(), EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := env.Close(); err != nil {
		t.Fatal(err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestEnvCloseFailsFastWhileBusy(t *testing.T) {
	env := NewEnv()
	if err := env.Open(t.TempDir(), EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	tx, err := env.BeginTxn(nil, TxnFlags{}.With(TxnReadOnly))
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Close(); CodeOf(err) != ErrEnvBusy {
		t.Fatalf("close with live reader: got %v, want ErrEnvBusy", err)
	}
	// The environment must still work after the refused close.
	if _, err := tx.Get(MainDBI, []byte("missing")); !IsNotFound(err) {
		t.Fatalf("get after refused close: %v", err)
	}
	tx.Abort()
	if err := env.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEnvSecondOpenIsLockedOut(t *testing.T) {
	dir := t.TempDir()
	env := NewEnv()
	if err := env.Open(dir, EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	other := NewEnv()
	err := other.Open(dir, EnvFlags{}, 0o644)
	if CodeOf(err) != ErrAlreadyOpen {
		t.Fatalf("second writer open: got %v, want ErrAlreadyOpen", err)
	}
}

func TestEnvNoSubdir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "single.db")
	env := NewEnv()
	if err := env.Open(path, EnvFlags{}.With(NoSubdir), 0o644); err != nil {
		t.Fatal(err)
	}
	mustPut(t, env, MainDBI, []byte("a"), []byte("1"))
	if err := env.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("data file not at path: %v", err)
	}
	if _, err := os.Stat(path + "-lock"); err != nil {
		t.Fatalf("lock file not beside data file: %v", err)
	}
}

func TestEnvReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	env := NewEnv()
	if err := env.Open(dir, EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	mustPut(t, env, MainDBI, []byte("k"), []byte("v"))
	env.Close()

	ro := NewEnv()
	if err := ro.Open(dir, EnvFlags{}.With(ReadOnly), 0o644); err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if got := mustGet(t, ro, MainDBI, []byte("k")); string(got) != "v" {
		t.Fatalf("read-only get: %q", got)
	}
	_, err := ro.BeginTxn(nil, TxnFlags{})
	if CodeOf(err) != ErrPermissionDenied {
		t.Fatalf("write txn on read-only env: got %v, want ErrPermissionDenied", err)
	}
}

func TestEnvPageSizeValidation(t *testing.T) {
	env := NewEnv()
	for _, bad := range []uint32{0, 100, 1000, 1 << 17} {
		if err := env.SetPageSize(bad); CodeOf(err) != ErrInvalid {
			t.Errorf("SetPageSize(%d): got %v, want ErrInvalid", bad, err)
		}
	}
	if err := env.SetPageSize(8192); err != nil {
		t.Fatal(err)
	}
	if err := env.Open(t.TempDir(), EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	defer env.Close()
	info, err := env.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.PageSize != 8192 {
		t.Fatalf("PageSize = %d, want 8192", info.PageSize)
	}
}

func TestEnvPersistedPageSizeWins(t *testing.T) {
	dir := t.TempDir()
	env := NewEnv()
	if err := env.SetPageSize(8192); err != nil {
		t.Fatal(err)
	}
	if err := env.Open(dir, EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	env.Close()

	env2 := NewEnv() // asks for the default 4096
	if err := env2.Open(dir, EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	defer env2.Close()
	info, _ := env2.Info()
	if info.PageSize != 8192 {
		t.Fatalf("reopened PageSize = %d, want the on-disk 8192", info.PageSize)
	}
}

func TestEnvStatAndInfo(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 100; i++ {
		mustPut(t, env, MainDBI, seqKey(i), seqVal(i))
	}
	st, err := env.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 100 {
		t.Fatalf("Entries = %d, want 100", st.Entries)
	}
	if st.LeafPages == 0 {
		t.Fatal("expected at least one leaf page")
	}
	info, err := env.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.LastTxnid < 100 {
		t.Fatalf("LastTxnid = %d after 100 commits", info.LastTxnid)
	}
	if info.NumReaders != 0 {
		t.Fatalf("NumReaders = %d with no readers", info.NumReaders)
	}
}

func TestEnvSync(t *testing.T) {
	env := NewEnv()
	if err := env.Open(t.TempDir(), EnvFlags{}.With(NoSync), 0o644); err != nil {
		t.Fatal(err)
	}
	defer env.Close()
	mustPut(t, env, MainDBI, []byte("k"), []byte("v"))
	if err := env.Sync(true, false); err != nil {
		t.Fatal(err)
	}
}

func TestEnvGeometryGrowth(t *testing.T) {
	env := NewEnv()
	if err := env.SetGeometry(1 << 20); err != nil {
		t.Fatal(err)
	}
	if err := env.Open(t.TempDir(), EnvFlags{}, 0o644); err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	if err := env.SetGeometry(4 << 20); err != nil {
		t.Fatal(err)
	}
	info, _ := env.Info()
	if info.MapSize != 4<<20 {
		t.Fatalf("MapSize = %d, want %d", info.MapSize, 4<<20)
	}
	// Shrinking is silently ignored.
	if err := env.SetGeometry(1 << 20); err != nil {
		t.Fatal(err)
	}
	info, _ = env.Info()
	if info.MapSize != 4<<20 {
		t.Fatalf("MapSize shrank to %d", info.MapSize)
	}
	mustPut(t, env, MainDBI, []byte("after-grow"), []byte("ok"))
}

func TestEnvGeometryGrowthBlockedByReader(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginTxn(nil, TxnFlags{}.With(TxnReadOnly))
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Abort()
	if err := env.SetGeometry(128 << 20); CodeOf(err) != ErrEnvBusy {
		t.Fatalf("growth with live reader: got %v, want ErrEnvBusy", err)
	}
}
