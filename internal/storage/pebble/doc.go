// Package pebblestore keeps compressed span payloads in a Pebble instance.
//
// The database lives on an in-memory filesystem by default (vfs.NewMem), so
// nothing reaches disk; DataDir switches to an on-disk scratch directory for
// very large sessions. Keys are
//
//	f/{fileID}/s/{seq big-endian uint32}
//
// so a whole file's payloads form one contiguous range and are released with
// a single range delete.
//
//	db, err := pebblestore.Open(pebblestore.Options{})
//	if err != nil { /* handle */ }
//	defer db.Close()
//	_ = db.Put("01hx3k9v2m000", 0, payload)
//	p, _ := db.Get("01hx3k9v2m000", 0)
//	_ = db.DeleteFile("01hx3k9v2m000")
package pebblestore
