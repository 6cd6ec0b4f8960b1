package rdb

import "encoding/base64"

// emptyRDB is a version 11 snapshot of an empty keyspace with the usual aux
// fields and a valid checksum.
const emptyRDB = "UkVESVMwMDEx+glyZWRpcy12ZXIFNy4yLjD6CnJlZGlzLWJpdHPAQPoFY3RpbWXCbQi8ZfoIdXNlZC1tZW3CsMQQAPoIYW9mLWJhc2XAAP/wbjv+wP9aog=="

// EmptySnapshot returns the snapshot a master ships on full resync
func EmptySnapshot() []byte {
	b, err := base64.StdEncoding.DecodeString(emptyRDB)
	if err != nil {
		panic("rdb: corrupt embedded snapshot: " + err.Error())
	}
	return b
}
