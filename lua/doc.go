// Package lua provides Redis-compatible Lua script execution.
//
// Scripts see the KEYS and ARGV tables and the redis library:
//   - redis.call and redis.pcall, which run a command through the Caller
//     given to Eval
//   - redis.status_reply and redis.error_reply
//   - redis.sha1hex
//
// Values cross the boundary with the usual Redis conversion rules: integers
// become numbers, bulk strings become strings, nulls become false, status
// and error replies become tables with an ok or err field, and back again.
//
// Scripts are compiled once and cached by SHA1, so EVALSHA never reparses.
// Only the base, table, string and math libraries are opened.
package lua
