// Package undo implements the append-only UNDO log (spec §4.4): visibility
// records addressed by monotonically increasing counters, chained per-row
// via prev pointers. Adapted from the teacher's btree/wal.go (physical,
// checksummed, append-only log) with fixed-size slots so a pointer maps
// directly to a file offset, and with a recovery path modeled on
// hashindex/recovery.go's "validate header, derive size from file length,
// discard a truncated tail" pattern.
package undo

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zedstore/zedstore/common"
)

// RecordType tags the tagged union of UNDO records (spec §3).
type RecordType uint8

const (
	RecInsert RecordType = iota + 1
	RecDelete
	RecUpdate
	RecLock
)

// Record is one UNDO log entry. Prev chains older records for the same
// row (delete/update/lock only); NewTID and KeyUpdate are set by update
// records only (spec §3).
type Record struct {
	Type      RecordType
	Xid       common.Xid
	Cid       common.Cid
	TID       common.TID
	Prev      common.UndoPtr
	NewTID    common.TID
	KeyUpdate bool
	LockMode  common.LockMode
}

const (
	magic      = "ZUND"
	slotSize   = 48
	headerSlot = 0 // slot 0 holds the persisted header, data starts at slot 1

	offMagic      = 0
	offOldestLive = 8
	offChecksum   = 40
)

// recordWireSize is the fixed payload size within a slot, per spec §6's
// UNDO record header {size:2, type:2, xid:4, cid:4, tid:8, …} plus the
// type-specific tail fields at fixed offsets (prev, new_tid, key-flag,
// lock mode).
const recordWireSize = 2 + 2 + 4 + 4 + 8 + 8 + 8 + 1 + 1 // = 38, padded to slotSize

// Log is the append-only UNDO log.
type Log struct {
	file       *os.File
	mu         sync.Mutex
	counter    uint64 // last assigned pointer; next is counter+1
	oldestLive uint64
	log        zerolog.Logger
	metrics    *Metrics
}

// Open opens or creates the UNDO log file at path, recovering the assigned
// counter from file length and the oldest-live pointer from the persisted
// header.
func Open(path string, log zerolog.Logger, m *Metrics) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("zedstore: open undo log: %w", err)
	}
	l := &Log{file: f, log: log, metrics: m}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if stat.Size() == 0 {
		if err := l.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		l.oldestLive = 1
		return l, nil
	}

	hdr := make([]byte, slotSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("zedstore: read undo log header: %w", err)
	}
	if string(hdr[offMagic:offMagic+4]) != magic {
		f.Close()
		return nil, common.NewCorruption(0, "undo log bad magic")
	}
	l.oldestLive = binary.BigEndian.Uint64(hdr[offOldestLive:])

	// Recover the assigned counter from file length, discarding any
	// truncated tail slot left by a crash mid-append (mirrors
	// hashindex/recovery.go's tolerant tail handling).
	nSlots := stat.Size() / slotSize
	if nSlots > 0 {
		l.counter = uint64(nSlots - 1) // slot 0 is the header
	}
	if l.oldestLive == 0 {
		l.oldestLive = 1
	}
	return l, nil
}

func (l *Log) writeHeader() error {
	buf := make([]byte, slotSize)
	copy(buf[offMagic:], magic)
	binary.BigEndian.PutUint64(buf[offOldestLive:], l.oldestLive)
	binary.BigEndian.PutUint32(buf[offChecksum:], crc32.ChecksumIEEE(buf[:offChecksum]))
	_, err := l.file.WriteAt(buf, headerSlot*slotSize)
	return err
}

// Insert atomically assigns the next counter and appends rec, returning
// the pointer a caller-side leaf item should reference.
func (l *Log) Insert(rec Record) (common.UndoPtr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counter++
	ptr := common.UndoPtr(l.counter)

	buf := encodeRecord(rec)
	if _, err := l.file.WriteAt(buf, int64(l.counter)*slotSize); err != nil {
		l.counter--
		return 0, fmt.Errorf("zedstore: append undo record: %w", err)
	}
	if l.metrics != nil {
		l.metrics.Counter.Set(float64(l.counter))
	}
	return ptr, nil
}

// Fetch returns the record at ptr, or (nil, nil) if ptr is below
// oldest_live (spec §4.4).
func (l *Log) Fetch(ptr common.UndoPtr) (*Record, error) {
	l.mu.Lock()
	oldest := l.oldestLive
	counter := l.counter
	l.mu.Unlock()

	if ptr == common.InvalidUndoPtr || uint64(ptr) < oldest {
		return nil, nil
	}
	if uint64(ptr) > counter {
		return nil, common.NewCorruption(uint64(ptr), "undo pointer beyond assigned counter")
	}

	buf := make([]byte, slotSize)
	if _, err := l.file.ReadAt(buf, int64(ptr)*slotSize); err != nil {
		return nil, fmt.Errorf("zedstore: read undo record %d: %w", ptr, err)
	}
	return decodeRecord(buf)
}

// OldestLive returns the pointer below which no reader can observe UNDO
// records. Monotone non-decreasing.
func (l *Log) OldestLive() common.UndoPtr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return common.UndoPtr(l.oldestLive)
}

// AdvanceOldestLive raises the oldest-live pointer to p, a no-op if p is
// not greater than the current value (monotonicity, spec §4.4).
func (l *Log) AdvanceOldestLive(p common.UndoPtr) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if uint64(p) <= l.oldestLive {
		return nil
	}
	l.oldestLive = uint64(p)
	if l.metrics != nil {
		l.metrics.OldestLive.Set(float64(l.oldestLive))
	}
	return l.writeHeader()
}

// Sync fsyncs the log file.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Sync()
}

// Close syncs and closes the log.
func (l *Log) Close() error {
	if err := l.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}

func encodeRecord(r Record) []byte {
	buf := make([]byte, slotSize)
	binary.BigEndian.PutUint16(buf[0:], uint16(recordWireSize))
	binary.BigEndian.PutUint16(buf[2:], uint16(r.Type))
	binary.BigEndian.PutUint32(buf[4:], uint32(r.Xid))
	binary.BigEndian.PutUint32(buf[8:], uint32(r.Cid))
	binary.BigEndian.PutUint64(buf[12:], uint64(r.TID))
	binary.BigEndian.PutUint64(buf[20:], uint64(r.Prev))
	binary.BigEndian.PutUint64(buf[28:], uint64(r.NewTID))
	kb := byte(0)
	if r.KeyUpdate {
		kb = 1
	}
	buf[36] = kb
	buf[37] = byte(r.LockMode)
	return buf
}

func decodeRecord(buf []byte) (*Record, error) {
	if len(buf) < recordWireSize {
		return nil, common.NewCorruption(0, "truncated undo record")
	}
	r := &Record{
		Type:      RecordType(binary.BigEndian.Uint16(buf[2:])),
		Xid:       common.Xid(binary.BigEndian.Uint32(buf[4:])),
		Cid:       common.Cid(binary.BigEndian.Uint32(buf[8:])),
		TID:       common.TID(binary.BigEndian.Uint64(buf[12:])),
		Prev:      common.UndoPtr(binary.BigEndian.Uint64(buf[20:])),
		NewTID:    common.TID(binary.BigEndian.Uint64(buf[28:])),
		KeyUpdate: buf[36] != 0,
		LockMode:  common.LockMode(buf[37]),
	}
	if r.Type < RecInsert || r.Type > RecLock {
		return nil, common.NewCorruption(0, "unknown undo record type")
	}
	return r, nil
}
