// Package wisent is an embedded, transactional key-value store built on a
// copy-on-write B+tree over a memory-mapped file.
//
// An Env owns one data file holding any number of databases. Readers run
// on immutable snapshots and never block; at most one write transaction
// runs at a time and publishes its changes atomically by flipping between
// two meta pages. Write transactions nest.
//
// Typical use:
//
//	env := wisent.NewEnv()
//	if err := env.Open("/var/lib/app", wisent.EnvFlags{}, 0o644); err != nil {
//		...
//	}
//	defer env.Close()
//
//	err := env.Update(func(tx *wisent.Txn) error {
//		return tx.Put(wisent.MainDBI, []byte("k"), []byte("v"), wisent.PutFlags{})
//	})
//
// Byte slices returned by reads alias the memory map or transaction-owned
// buffers. They are valid until the transaction ends and must be copied to
// outlive it.
package wisent
