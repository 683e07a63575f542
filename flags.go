package wisent

// The flag types below model capability sets over closed enumerations. The
// underlying bits never leak into the public API: construction goes through
// With, queries through Has.

// EnvFlag is a single environment capability flag.
type EnvFlag uint32

const (
	// ReadOnly opens the environment without write access.
	ReadOnly EnvFlag = 1 << iota

	// NoSubdir treats the path as the data file itself rather than a directory.
	NoSubdir

	// NoSync skips the data fsync on commit. A crash may lose the last
	// transactions but never corrupts the database.
	NoSync

	// NoMetaSync skips the meta-page fsync on commit.
	NoMetaSync
)

// EnvFlags is a set of EnvFlag values.
type EnvFlags struct{ bits uint32 }

// With returns the set extended by the given flags.
func (f EnvFlags) With(flags ...EnvFlag) EnvFlags {
	for _, fl := range flags {
		f.bits |= uint32(fl)
	}
	return f
}

// Has reports whether the set contains fl.
func (f EnvFlags) Has(fl EnvFlag) bool { return f.bits&uint32(fl) != 0 }

// DBFlag is a single database capability flag.
type DBFlag uint16

const (
	// Create creates the named database if it does not exist. Requires a
	// read-write transaction.
	Create DBFlag = 1 << iota

	// DupSort allows multiple sorted values per key.
	DupSort

	// IntegerKey orders keys as native-endian fixed-width unsigned integers
	// (4 or 8 bytes) instead of lexicographically.
	IntegerKey

	// ReverseKey orders keys by reversed byte comparison.
	ReverseKey

	// DupFixed declares all duplicate values have the same size. Only
	// meaningful together with DupSort.
	DupFixed
)

// persistentDBFlags are the flags recorded in the database metadata and
// checked for compatibility on reopen. Create is a request, not a property.
const persistentDBFlags = DupSort | IntegerKey | ReverseKey | DupFixed

// DBFlags is a set of DBFlag values.
type DBFlags struct{ bits uint16 }

// With returns the set extended by the given flags.
func (f DBFlags) With(flags ...DBFlag) DBFlags {
	for _, fl := range flags {
		f.bits |= uint16(fl)
	}
	return f
}

// Has reports whether the set contains fl.
func (f DBFlags) Has(fl DBFlag) bool { return f.bits&uint16(fl) != 0 }

// persistent returns only the flags stored in the tree metadata.
func (f DBFlags) persistent() uint16 { return f.bits & uint16(persistentDBFlags) }

func dbFlagsFromPersistent(bits uint16) DBFlags {
	return DBFlags{bits: bits & uint16(persistentDBFlags)}
}

// TxnFlag is a single transaction flag.
type TxnFlag uint16

const (
	// TxnReadOnly begins a read-only snapshot transaction.
	TxnReadOnly TxnFlag = 1 << iota
)

// TxnFlags is a set of TxnFlag values.
type TxnFlags struct{ bits uint16 }

// With returns the set extended by the given flags.
func (f TxnFlags) With(flags ...TxnFlag) TxnFlags {
	for _, fl := range flags {
		f.bits |= uint16(fl)
	}
	return f
}

// Has reports whether the set contains fl.
func (f TxnFlags) Has(fl TxnFlag) bool { return f.bits&uint16(fl) != 0 }

// PutFlag is a single put-mode flag.
type PutFlag uint16

const (
	// NoOverwrite fails with ErrKeyExist if the key is already present. For
	// DupSort databases it fails only if the exact key/value pair exists.
	NoOverwrite PutFlag = 1 << iota

	// NoDupData fails with ErrKeyExist if the exact key/value pair exists in
	// a DupSort database.
	NoDupData

	// Append asserts the key is greater than every existing key, skipping the
	// descent and ordering checks. Ordering violations are rejected.
	Append

	// Current replaces the value at the cursor's current position.
	Current
)

// PutFlags is a set of PutFlag values.
type PutFlags struct{ bits uint16 }

// With returns the set extended by the given flags.
func (f PutFlags) With(flags ...PutFlag) PutFlags {
	for _, fl := range flags {
		f.bits |= uint16(fl)
	}
	return f
}

// Has reports whether the set contains fl.
func (f PutFlags) Has(fl PutFlag) bool { return f.bits&uint16(fl) != 0 }
