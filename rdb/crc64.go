package rdb

import "hash/crc64"

// jonesPoly is the reflected CRC-64/Jones polynomial used by Redis
const jonesPoly = 0x95AC9329AC4BC9B5

var crcTable = crc64.MakeTable(jonesPoly)

// crcUpdate extends crc over p. The standard library's crc64.Update
// complements the register on entry and exit, which the Redis variant does
// not, so the table is driven directly.
func crcUpdate(crc uint64, p []byte) uint64 {
	for _, b := range p {
		crc = crcTable[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}

// Checksum returns the CRC-64/Jones checksum Redis appends to RDB files
func Checksum(p []byte) uint64 {
	return crcUpdate(0, p)
}
