// Package protocol implements the Redis Serialization Protocol (RESP)
// for parsing and writing Redis protocol messages.
//
// Decoding is resumable: Decode never consumes a partial frame, which lets
// Reader accept pipelined requests in any chunking the network produces.
//
// Basic usage:
//
//	reader := protocol.NewReader(conn)
//	for {
//		value, size, err := reader.ReadValue()
//		if err != nil {
//			break
//		}
//		// Process value; size is its length on the wire
//	}
//
// The package supports all RESP2 data types:
//   - Simple Strings
//   - Errors
//   - Integers
//   - Bulk Strings
//   - Arrays (nested)
//   - Null bulk strings and null arrays
//
// Inline commands ("PING\r\n") are decoded as arrays of bulk strings.
package protocol
