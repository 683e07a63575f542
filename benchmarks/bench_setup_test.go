package benchmarks

import (
	"encoding/binary"
	"path/filepath"
	"runtime"
	"testing"

	mdbxgo "github.com/erigontech/mdbx-go/mdbx"
	"github.com/tecbot/gorocksdb"
	"github.com/wisentdb/wisent"
	bolt "go.etcd.io/bbolt"
)

const (
	benchValSize = 32
	benchMapSize = 1 << 32 // 4GB max
)

func benchKey(buf []byte, i int) []byte {
	binary.BigEndian.PutUint64(buf, uint64(i))
	return buf
}

// ============ wisent ============

func openWisent(b *testing.B) *wisent.Env {
	env := wisent.NewEnv()
	if err := env.SetMaxDBs(10); err != nil {
		b.Fatal(err)
	}
	if err := env.SetGeometry(benchMapSize); err != nil {
		b.Fatal(err)
	}
	path := filepath.Join(b.TempDir(), "bench.db")
	flags := wisent.EnvFlags{}.With(wisent.NoSubdir, wisent.NoSync)
	if err := env.Open(path, flags, 0o644); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { env.Close() })
	return env
}

func populateWisent(b *testing.B, env *wisent.Env, numKeys int) wisent.DBI {
	var dbi wisent.DBI
	key := make([]byte, 8)
	val := make([]byte, benchValSize)
	err := env.Update(func(tx *wisent.Txn) error {
		var err error
		dbi, err = tx.OpenDBI("bench", wisent.DBFlags{}.With(wisent.Create))
		if err != nil {
			return err
		}
		appendFlag := wisent.PutFlags{}.With(wisent.Append)
		for i := 0; i < numKeys; i++ {
			binary.BigEndian.PutUint64(key, uint64(i))
			binary.BigEndian.PutUint64(val, uint64(i))
			if err := tx.Put(dbi, key, val, appendFlag); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
	return dbi
}

// ============ mdbx-go ============

func openMdbx(b *testing.B) *mdbxgo.Env {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	env, err := mdbxgo.NewEnv(mdbxgo.Label("bench"))
	if err != nil {
		b.Fatal(err)
	}
	env.SetOption(mdbxgo.OptMaxDB, 10)
	env.SetGeometry(-1, -1, benchMapSize, -1, -1, 4096)
	path := filepath.Join(b.TempDir(), "bench.mdbx")
	if err := env.Open(path, mdbxgo.NoSubdir|mdbxgo.NoMetaSync, 0644); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(env.Close)
	return env
}

func populateMdbx(b *testing.B, env *mdbxgo.Env, numKeys int) mdbxgo.DBI {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		b.Fatal(err)
	}
	dbi, err := txn.OpenDBI("bench", mdbxgo.Create, nil, nil)
	if err != nil {
		txn.Abort()
		b.Fatal(err)
	}
	key := make([]byte, 8)
	val := make([]byte, benchValSize)
	for i := 0; i < numKeys; i++ {
		binary.BigEndian.PutUint64(key, uint64(i))
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := txn.Put(dbi, key, val, mdbxgo.Upsert); err != nil {
			txn.Abort()
			b.Fatal(err)
		}
	}
	if _, err := txn.Commit(); err != nil {
		b.Fatal(err)
	}
	return dbi
}

// ============ bbolt ============

var boltBucket = []byte("bench")

func openBolt(b *testing.B) *bolt.DB {
	path := filepath.Join(b.TempDir(), "bench.bolt")
	db, err := bolt.Open(path, 0644, &bolt.Options{
		NoSync:         true,
		NoFreelistSync: true,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { db.Close() })
	return db
}

func populateBolt(b *testing.B, db *bolt.DB, numKeys int) {
	key := make([]byte, 8)
	val := make([]byte, benchValSize)
	err := db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		for i := 0; i < numKeys; i++ {
			binary.BigEndian.PutUint64(key, uint64(i))
			binary.BigEndian.PutUint64(val, uint64(i))
			if err := bkt.Put(key, val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
}

// ============ RocksDB ============

func openRocks(b *testing.B) *gorocksdb.DB {
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetWriteBufferSize(64 * 1024 * 1024)
	db, err := gorocksdb.OpenDb(opts, filepath.Join(b.TempDir(), "bench.rocks"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(db.Close)
	return db
}

func populateRocks(b *testing.B, db *gorocksdb.DB, numKeys int) {
	wo := gorocksdb.NewDefaultWriteOptions()
	wo.DisableWAL(true) // others do not sync either
	defer wo.Destroy()

	key := make([]byte, 8)
	val := make([]byte, benchValSize)
	for i := 0; i < numKeys; i++ {
		binary.BigEndian.PutUint64(key, uint64(i))
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := db.Put(wo, key, val); err != nil {
			b.Fatal(err)
		}
	}
}
