// Package page implements the fixed-size page buffer adapter (spec §4.1)
// and the on-disk page layout shared by metapages, tree pages, and the
// UNDO log (spec §6). It is adapted from the teacher's btree/page.go and
// btree/pager.go, generalized from a single slotted B-tree page into a
// layout that three different opaque-tail formats (metapage, tree page,
// UNDO page) can share.
package page

import "encoding/binary"

// Size is the fixed page size. The spec's default is 8 KiB.
const Size = 8192

// Page-id tags, written as the last two bytes of every page's opaque area
// (spec §6). ToastPageID is reserved for the external TOAST collaborator;
// this module never writes it (TOAST chunking is a non-goal).
const (
	MetaPageID  uint16 = 0xF083
	TreePageID  uint16 = 0xF084
	UndoPageID  uint16 = 0xF085
	ToastPageID uint16 = 0xF086
)

// generic slotted-page header: item-pointer directory grows up from
// headerSize, item bytes grow down from Size-opaqueSize. lower/upper bound
// the free-space gap in between.
const (
	headerSize = 24

	offLower    = 0 // uint16: end of item-pointer directory
	offUpper    = 2 // uint16: start of item data (grows down)
	offSpecial  = 4 // uint16: start of the opaque tail
	offFlags    = 6 // uint16
	offNumItems = 8 // uint16

	itemPtrSize = 2
)

// Page flags.
const (
	FlagNone byte = 0
)

// Block is a physical block number; block 0 is always the metapage.
type Block uint32

// InvalidBlock marks "no block" (e.g. an empty tree's root, a missing
// sibling link).
const InvalidBlock Block = 0xFFFFFFFF

// Page is one fixed-size in-memory page image: generic slotted header,
// item-pointer directory, item bytes, and a format-specific opaque tail.
type Page struct {
	buf [Size]byte
}

// New formats a fresh page with the given opaque-tail size and page-id tag.
func New(opaqueSize int, pageID uint16) *Page {
	p := &Page{}
	p.reset(uint16(opaqueSize), pageID)
	return p
}

// Load wraps raw on-disk bytes (already the right size) as a Page.
func Load(data []byte) *Page {
	p := &Page{}
	copy(p.buf[:], data)
	return p
}

func (p *Page) reset(opaqueSize, pageID uint16) {
	special := uint16(Size - opaqueSize)
	binary.BigEndian.PutUint16(p.buf[offLower:], headerSize)
	binary.BigEndian.PutUint16(p.buf[offUpper:], special)
	binary.BigEndian.PutUint16(p.buf[offSpecial:], special)
	binary.BigEndian.PutUint16(p.buf[offFlags:], 0)
	binary.BigEndian.PutUint16(p.buf[offNumItems:], 0)
	binary.BigEndian.PutUint16(p.buf[Size-2:], pageID)
}

// Bytes returns the raw page image for writing to disk.
func (p *Page) Bytes() []byte { return p.buf[:] }

func (p *Page) lower() uint16   { return binary.BigEndian.Uint16(p.buf[offLower:]) }
func (p *Page) upper() uint16   { return binary.BigEndian.Uint16(p.buf[offUpper:]) }
func (p *Page) special() uint16 { return binary.BigEndian.Uint16(p.buf[offSpecial:]) }

func (p *Page) setLower(v uint16) { binary.BigEndian.PutUint16(p.buf[offLower:], v) }
func (p *Page) setUpper(v uint16) { binary.BigEndian.PutUint16(p.buf[offUpper:], v) }

// PageID returns the page-id tag from the last two bytes of the opaque area.
func (p *Page) PageID() uint16 { return binary.BigEndian.Uint16(p.buf[Size-2:]) }

// Flags returns the page-level flags word.
func (p *Page) Flags() uint16 { return binary.BigEndian.Uint16(p.buf[offFlags:]) }

// SetFlags overwrites the page-level flags word.
func (p *Page) SetFlags(f uint16) { binary.BigEndian.PutUint16(p.buf[offFlags:], f) }

// NumItems returns the number of items in the directory.
func (p *Page) NumItems() int {
	return int(binary.BigEndian.Uint16(p.buf[offNumItems:]))
}

func (p *Page) setNumItems(n int) {
	binary.BigEndian.PutUint16(p.buf[offNumItems:], uint16(n))
}

func (p *Page) dirOffset(i int) int { return headerSize + i*itemPtrSize }

// ItemAt returns the i'th item's raw bytes (a borrowed slice into the page).
func (p *Page) ItemAt(i int) []byte {
	n := p.NumItems()
	if i < 0 || i >= n {
		return nil
	}
	start := binary.BigEndian.Uint16(p.buf[p.dirOffset(i):])
	var end uint16
	if i == 0 {
		end = p.special()
	} else {
		end = binary.BigEndian.Uint16(p.buf[p.dirOffset(i-1):])
	}
	return p.buf[start:end]
}

// FreeSpace returns the number of bytes available for new items.
func (p *Page) FreeSpace() int {
	return int(p.upper()) - int(p.lower()) - itemPtrSize
}

// Append writes item onto the end of the item-data area (items are always
// appended in ascending TID order by the rewriter, §4.5.5) and reports
// whether it fit.
func (p *Page) Append(item []byte) bool {
	if len(item) > p.FreeSpace() {
		return false
	}
	newUpper := p.upper() - uint16(len(item))
	copy(p.buf[newUpper:], item)
	p.setUpper(newUpper)

	n := p.NumItems()
	binary.BigEndian.PutUint16(p.buf[p.dirOffset(n):], newUpper)
	p.setNumItems(n + 1)
	p.setLower(p.lower() + itemPtrSize)
	return true
}

// Opaque returns the mutable opaque tail, sized at special()..Size-0.
func (p *Page) Opaque() []byte {
	return p.buf[p.special():]
}

// Reformat clears the item area but keeps the same opaque size, used when
// the rewriter starts a fresh page image in place (§4.5.5).
func (p *Page) Reformat(pageID uint16) {
	opaqueSize := Size - int(p.special())
	p.reset(uint16(opaqueSize), pageID)
}
