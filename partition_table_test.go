package quicbind

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCIDTableInsertAndFind(t *testing.T) {
	tbl := NewCIDTable()
	conn := &fakeConnection{}
	cid := NewCID([]byte{1, 2, 3, 4})

	outcome, existing := tbl.Insert(cid, conn)
	require.Equal(t, Inserted, outcome)
	require.Nil(t, existing)

	ref := tbl.FindByCID(cid)
	require.NotNil(t, ref)
	require.Same(t, conn, ref.Conn())
	ref.Release()
}

func TestCIDTableInsertCollision(t *testing.T) {
	tbl := NewCIDTable()
	conn := &fakeConnection{}
	other := &fakeConnection{}
	cid := NewCID([]byte{5, 6, 7})

	outcome, _ := tbl.Insert(cid, conn)
	require.Equal(t, Inserted, outcome)

	outcome, existing := tbl.Insert(cid, other)
	require.Equal(t, Collided, outcome)
	require.Same(t, conn, existing)
}

func TestCIDTableFindByCIDMiss(t *testing.T) {
	tbl := NewCIDTable()
	require.Nil(t, tbl.FindByCID(NewCID([]byte{1})))
}

func TestCIDTableRemove(t *testing.T) {
	tbl := NewCIDTable()
	conn := &fakeConnection{}
	cid := NewCID([]byte{9, 9})

	tbl.Insert(cid, conn)
	tbl.Remove(cid)
	require.Nil(t, tbl.FindByCID(cid))
}

func TestCIDTableRemoveAll(t *testing.T) {
	tbl := NewCIDTable()
	conn := &fakeConnection{}
	a := NewCID([]byte{1})
	b := NewCID([]byte{2})
	tbl.Insert(a, conn)
	tbl.Insert(b, conn)

	tbl.RemoveAll(conn)
	require.Nil(t, tbl.FindByCID(a))
	require.Nil(t, tbl.FindByCID(b))
}

func TestCIDTableMoveAll(t *testing.T) {
	src := NewCIDTable()
	dst := NewCIDTable()
	conn := &fakeConnection{}
	a := NewCID([]byte{3, 3})
	b := NewCID([]byte{4, 4})
	src.Insert(a, conn)
	src.Insert(b, conn)

	MoveAll(src, dst, conn)

	require.Nil(t, src.FindByCID(a))
	require.Nil(t, src.FindByCID(b))

	ref := dst.FindByCID(a)
	require.NotNil(t, ref)
	ref.Release()
	ref = dst.FindByCID(b)
	require.NotNil(t, ref)
	ref.Release()
}

func TestCIDTableMaximizePartitioningOnceAndSurvivesLookup(t *testing.T) {
	tbl := NewCIDTable()
	conn := &fakeConnection{}
	cid := NewCID([]byte{11, 22, 33})
	tbl.Insert(cid, conn)

	require.True(t, tbl.MaximizePartitioning(8))
	require.False(t, tbl.MaximizePartitioning(8))

	ref := tbl.FindByCID(cid)
	require.NotNil(t, ref)
	ref.Release()
}

func TestCIDTableHasAny(t *testing.T) {
	tbl := NewCIDTable()
	require.False(t, tbl.HasAny())

	conn := &fakeConnection{}
	cid := NewCID([]byte{1, 1})
	tbl.Insert(cid, conn)
	require.True(t, tbl.HasAny())

	tbl.Remove(cid)
	require.False(t, tbl.HasAny())
}

func TestCIDTableSetAndFindByRemote(t *testing.T) {
	tbl := NewCIDTable()
	conn := &fakeConnection{}
	peer := testPeer(5000)

	tbl.SetRemote(peer.Key(), conn)
	ref := tbl.FindByRemote(peer.Key())
	require.NotNil(t, ref)
	require.Same(t, conn, ref.Conn())
	ref.Release()

	require.Nil(t, tbl.FindByRemote(testPeer(5001).Key()))
}
