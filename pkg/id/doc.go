// Package id mints short, sortable identifiers for loaded files and search
// runs.
//
// # Format
//
// An ID is a uint64: the upper 48 bits hold milliseconds since the Unix
// epoch, the lower 16 bits a per-millisecond sequence. String renders it as
// 13 characters of lowercase Crockford base32, so string order matches
// numeric order.
//
// The Generator is monotonic per process: a regressing clock is pinned to
// the last millisecond seen, and a sequence overflow waits for the next
// millisecond.
//
//	g := id.NewGenerator()
//	fid := g.Next()
//	s := fid.String()      // "01hx3k9v2m000"
//	back, _ := id.Parse(s) // back == fid
package id
