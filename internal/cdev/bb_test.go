package cdev

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/mtd"
	"github.com/stretchr/testify/require"
)

const (
	testEraseSize = 4096
	testBlocks    = 16
)

func newTestNAND(t *testing.T, bad ...int64) (*Devfs, *mtd.NAND) {
	t.Helper()

	nand, err := mtd.NewNAND(testBlocks*testEraseSize, testEraseSize, 512)
	require.NoError(t, err)

	for _, blk := range bad {
		require.NoError(t, nand.MarkBad(blk*testEraseSize))
	}

	d := New(nil)
	_, err = d.Create("nand0", nand, nand.Size(), 0)
	require.NoError(t, err)
	return d, nand
}

func TestBBDevTransparency(t *testing.T) {
	d, nand := newTestNAND(t, 1, 4, 5)

	bb, err := d.AddBBDev("nand0", "nand0.bb")
	require.NoError(t, err)
	require.Equal(t, int64((testBlocks-3)*testEraseSize), bb.Size)

	data := make([]byte, 5*testEraseSize+100)
	rand.New(rand.NewSource(1)).Read(data)
	require.NoError(t, bb.Erase(0, 6*testEraseSize))

	_, err = bb.WriteAt(data, 0)
	require.NoError(t, err)

	// the logical stream equals the raw device with bad blocks removed
	var expected []byte
	for blk := int64(0); blk < testBlocks; blk++ {
		if blk == 1 || blk == 4 || blk == 5 {
			require.Equal(t, bytes.Repeat([]byte{0xff}, testEraseSize), nand.Bytes()[blk*testEraseSize:(blk+1)*testEraseSize])
			require.Zero(t, nand.Erases[blk])
			require.Zero(t, nand.Writes[blk])
			continue
		}
		expected = append(expected, nand.Bytes()[blk*testEraseSize:(blk+1)*testEraseSize]...)
	}
	require.Equal(t, data, expected[:len(data)])

	got := make([]byte, len(data))
	_, err = bb.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// unaligned access across a bad block
	got = make([]byte, 300)
	_, err = bb.ReadAt(got, testEraseSize-150)
	require.NoError(t, err)
	require.Equal(t, data[testEraseSize-150:testEraseSize+150], got)

	stream, err := io.ReadAll(bb.Ops().(*BBDev).Reader())
	require.NoError(t, err)
	require.Equal(t, expected, stream)
}

func TestBBDevNewlyBad(t *testing.T) {
	d, nand := newTestNAND(t)

	bb, err := d.AddBBDev("nand0", "nand0.bb")
	require.NoError(t, err)

	nand.FailAt(2 * testEraseSize)

	_, err = bb.WriteAt(make([]byte, 3*testEraseSize), 0)
	require.ErrorIs(t, err, errs.ErrMedia)

	// nothing was retried on another block
	require.Zero(t, nand.Writes[3])
	require.Equal(t, 1, nand.Writes[1])
}

func TestBBDevOnPartition(t *testing.T) {
	d, nand := newTestNAND(t, 3)

	err := d.CreatePartitions("nand0", []PartitionInfo{
		{Name: "nand0.xload", Size: 2 * testEraseSize, Flags: FlagFixed},
		{Name: "nand0.barebox", Size: 4 * testEraseSize, Flags: FlagFixed, BBName: "nand0.barebox.bb"},
	})
	require.NoError(t, err)

	bb, err := d.Lookup("nand0.barebox.bb")
	require.NoError(t, err)
	require.Equal(t, int64(3*testEraseSize), bb.Size)

	_, err = bb.WriteAt([]byte("barebox"), testEraseSize)
	require.NoError(t, err)

	// logical block 1 is raw block 4, since block 3 is bad
	require.Equal(t, "barebox", string(nand.Bytes()[4*testEraseSize:4*testEraseSize+7]))

	// the raw partition is held open by the overlay
	require.ErrorIs(t, d.Remove("nand0.barebox"), errs.ErrBusy)
	require.NoError(t, d.Remove("nand0.barebox.bb"))
	require.NoError(t, d.Remove("nand0.barebox"))
}

func TestBBDevUnsupported(t *testing.T) {
	d, _ := newTestDevfs(t, "mmc0", 8192)

	_, err := d.AddBBDev("mmc0", "mmc0.bb")
	require.ErrorIs(t, err, errs.ErrUnsupportedOperation)

	c, _ := d.Lookup("mmc0")
	require.Zero(t, c.OpenCount())
}
