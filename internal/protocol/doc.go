// Package protocol owns the semantic layer of the supervisor wire contract.
//
// Ownership boundary:
// - frame: prelude, message decode/encode, CRC
// - header: typed header entries
// - this package: message types, flags and the well-known header names the
//   client interprets
package protocol
