// Package txn defines the transaction record shared by every other package.
//
// A Record is identified solely by its server-assigned ID. The well-known
// fields (type, amount, status) are typed; every other field the server sends
// is carried opaquely in Extra and survives a decode/encode round trip, so a
// record can be replaced wholesale without losing server-defined data.
//
// Canonical encoding (MarshalCanonical) produces RFC 8785 style JSON with
// NFC-normalised strings and sorted keys. It is used wherever a record must
// hash to the same bytes regardless of how it was received.
package txn
