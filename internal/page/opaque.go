package page

import "encoding/binary"

// TreeOpaqueSize is the exact wire size of a tree page's opaque tail per
// spec §6: {attno:2, next:4, lokey:8, hikey:8, level:2, flags:2, pad:2,
// page_id:2}.
const TreeOpaqueSize = 2 + 4 + 8 + 8 + 2 + 2 + 2 + 2

const (
	toAttno = 0
	toNext  = 2
	toLokey = 6
	toHikey = 14
	toLevel = 22
	toFlags = 24
	// toPad = 26, reserved.
	toPageID = 28
)

// Tree-opaque flag bits.
const (
	TreeFlagFollowRight uint16 = 1 << 0
	TreeFlagRoot        uint16 = 1 << 1
)

// TreeOpaque is a view over a tree page's opaque tail.
type TreeOpaque struct{ b []byte }

// NewTree formats a fresh tree page for the given attribute and level.
func NewTree(attno int16, level uint16) *Page {
	p := New(TreeOpaqueSize, TreePageID)
	op := p.Tree()
	op.SetAttno(attno)
	op.SetNext(InvalidBlock)
	op.SetLokey(0)
	op.SetHikey(^uint64(0))
	op.SetLevel(level)
	op.SetFlags(0)
	return p
}

// Tree returns the opaque-tail view, valid only for TreePageID pages.
func (p *Page) Tree() TreeOpaque { return TreeOpaque{p.Opaque()} }

func (o TreeOpaque) Attno() int16    { return int16(binary.BigEndian.Uint16(o.b[toAttno:])) }
func (o TreeOpaque) SetAttno(v int16) { binary.BigEndian.PutUint16(o.b[toAttno:], uint16(v)) }

func (o TreeOpaque) Next() Block     { return Block(binary.BigEndian.Uint32(o.b[toNext:])) }
func (o TreeOpaque) SetNext(v Block) { binary.BigEndian.PutUint32(o.b[toNext:], uint32(v)) }

func (o TreeOpaque) Lokey() uint64     { return binary.BigEndian.Uint64(o.b[toLokey:]) }
func (o TreeOpaque) SetLokey(v uint64) { binary.BigEndian.PutUint64(o.b[toLokey:], v) }

func (o TreeOpaque) Hikey() uint64     { return binary.BigEndian.Uint64(o.b[toHikey:]) }
func (o TreeOpaque) SetHikey(v uint64) { binary.BigEndian.PutUint64(o.b[toHikey:], v) }

func (o TreeOpaque) Level() uint16     { return binary.BigEndian.Uint16(o.b[toLevel:]) }
func (o TreeOpaque) SetLevel(v uint16) { binary.BigEndian.PutUint16(o.b[toLevel:], v) }

func (o TreeOpaque) IsLeaf() bool { return o.Level() == 0 }

func (o TreeOpaque) Flags() uint16     { return binary.BigEndian.Uint16(o.b[toFlags:]) }
func (o TreeOpaque) SetFlags(v uint16) { binary.BigEndian.PutUint16(o.b[toFlags:], v) }

func (o TreeOpaque) FollowRight() bool { return o.Flags()&TreeFlagFollowRight != 0 }
func (o TreeOpaque) SetFollowRight(v bool) {
	if v {
		o.SetFlags(o.Flags() | TreeFlagFollowRight)
	} else {
		o.SetFlags(o.Flags() &^ TreeFlagFollowRight)
	}
}

func (o TreeOpaque) IsRoot() bool { return o.Flags()&TreeFlagRoot != 0 }
func (o TreeOpaque) SetRoot(v bool) {
	if v {
		o.SetFlags(o.Flags() | TreeFlagRoot)
	} else {
		o.SetFlags(o.Flags() &^ TreeFlagRoot)
	}
}

// MetaOpaqueSize is the wire size of the metapage's opaque tail: UNDO
// head/tail/counter/oldest (8 bytes each) plus the page-id tag.
const MetaOpaqueSize = 8 + 8 + 8 + 8 + 2

const (
	moHead    = 0
	moTail    = 8
	moCounter = 16
	moOldest  = 24
	// moPageID = 32, implicit via Page.PageID().
)

// MetaOpaque is a view over the metapage's opaque tail.
type MetaOpaque struct{ b []byte }

func NewMeta() *Page {
	p := New(MetaOpaqueSize, MetaPageID)
	return p
}

func (p *Page) Meta() MetaOpaque { return MetaOpaque{p.Opaque()} }

func (o MetaOpaque) UndoHead() uint64     { return binary.BigEndian.Uint64(o.b[moHead:]) }
func (o MetaOpaque) SetUndoHead(v uint64) { binary.BigEndian.PutUint64(o.b[moHead:], v) }

func (o MetaOpaque) UndoTail() uint64     { return binary.BigEndian.Uint64(o.b[moTail:]) }
func (o MetaOpaque) SetUndoTail(v uint64) { binary.BigEndian.PutUint64(o.b[moTail:], v) }

func (o MetaOpaque) UndoCounter() uint64     { return binary.BigEndian.Uint64(o.b[moCounter:]) }
func (o MetaOpaque) SetUndoCounter(v uint64) { binary.BigEndian.PutUint64(o.b[moCounter:], v) }

func (o MetaOpaque) OldestLive() uint64     { return binary.BigEndian.Uint64(o.b[moOldest:]) }
func (o MetaOpaque) SetOldestLive(v uint64) { binary.BigEndian.PutUint64(o.b[moOldest:], v) }
