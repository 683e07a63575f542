package wisent

// Version is the library version, also reported by the wisent CLI.
const Version = "0.1.0"

// FormatVersion is the on-disk format generation. Files written by a
// different generation are rejected with ErrVersionMismatch.
const FormatVersion = metaVersion
