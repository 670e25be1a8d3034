package spanstore

import (
	"errors"
	"sync"

	pebblestore "github.com/rzbill/loglens/internal/storage/pebble"
)

// PayloadStore holds compressed span payloads. Get on a missing payload
// returns an error wrapping ErrUnknownFile.
type PayloadStore interface {
	Put(file FileID, seq uint32, payload []byte) error
	Get(file FileID, seq uint32) ([]byte, error)
	DeleteFile(file FileID) error
	Close() error
}

type heapPayloads struct {
	mu    sync.RWMutex
	files map[FileID][][]byte
}

// NewHeapPayloads keeps payloads as plain byte slices on the Go heap.
func NewHeapPayloads() PayloadStore {
	return &heapPayloads{files: make(map[FileID][][]byte)}
}

func (h *heapPayloads) Put(file FileID, seq uint32, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.files[file]
	for uint32(len(list)) <= seq {
		list = append(list, nil)
	}
	list[seq] = payload
	h.files[file] = list
	return nil
}

func (h *heapPayloads) Get(file FileID, seq uint32) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.files[file]
	if seq >= uint32(len(list)) || list[seq] == nil {
		return nil, ErrUnknownFile
	}
	return list[seq], nil
}

func (h *heapPayloads) DeleteFile(file FileID) error {
	h.mu.Lock()
	delete(h.files, file)
	h.mu.Unlock()
	return nil
}

func (h *heapPayloads) Close() error {
	h.mu.Lock()
	h.files = make(map[FileID][][]byte)
	h.mu.Unlock()
	return nil
}

type pebblePayloads struct {
	db *pebblestore.DB
}

// NewPebblePayloads stores payloads in db. The store takes ownership and
// closes db on Close.
func NewPebblePayloads(db *pebblestore.DB) PayloadStore {
	return &pebblePayloads{db: db}
}

func (p *pebblePayloads) Put(file FileID, seq uint32, payload []byte) error {
	return p.db.Put(string(file), seq, payload)
}

func (p *pebblePayloads) Get(file FileID, seq uint32) ([]byte, error) {
	b, err := p.db.Get(string(file), seq)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, ErrUnknownFile
	}
	return b, err
}

func (p *pebblePayloads) DeleteFile(file FileID) error { return p.db.DeleteFile(string(file)) }

func (p *pebblePayloads) Close() error { return p.db.Close() }
