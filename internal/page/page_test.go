package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreePageRoundTrip(t *testing.T) {
	p := NewTree(3, 0)
	require.True(t, p.Tree().IsLeaf())
	require.Equal(t, int16(3), p.Tree().Attno())

	p.Tree().SetLokey(10)
	p.Tree().SetHikey(20)
	p.Tree().SetNext(Block(7))
	p.Tree().SetFollowRight(true)

	reloaded := Load(p.Bytes())
	require.Equal(t, uint64(10), reloaded.Tree().Lokey())
	require.Equal(t, uint64(20), reloaded.Tree().Hikey())
	require.Equal(t, Block(7), reloaded.Tree().Next())
	require.True(t, reloaded.Tree().FollowRight())
	require.Equal(t, TreePageID, reloaded.PageID())
}

func TestAppendAndFreeSpace(t *testing.T) {
	p := NewTree(0, 0)
	free0 := p.FreeSpace()
	item := make([]byte, 50)
	require.True(t, p.Append(item))
	require.Equal(t, 1, p.NumItems())
	require.Equal(t, free0-50-2, p.FreeSpace())
	require.Len(t, p.ItemAt(0), 50)
}

func TestAppendRejectsWhenFull(t *testing.T) {
	p := NewTree(0, 0)
	big := make([]byte, p.FreeSpace()+1)
	require.False(t, p.Append(big))
	require.Equal(t, 0, p.NumItems())
}

func TestMetaPageRoundTrip(t *testing.T) {
	p := NewMeta()
	p.Meta().SetUndoCounter(42)
	p.Meta().SetOldestLive(7)

	reloaded := Load(p.Bytes())
	require.Equal(t, uint64(42), reloaded.Meta().UndoCounter())
	require.Equal(t, uint64(7), reloaded.Meta().OldestLive())
	require.Equal(t, MetaPageID, reloaded.PageID())
}
