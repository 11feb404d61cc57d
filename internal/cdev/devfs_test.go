package cdev

import (
	"bytes"
	"io"
	"testing"

	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/stretchr/testify/require"
)

func newTestDevfs(t *testing.T, name string, size int64) (*Devfs, *MemDevice) {
	t.Helper()

	d := New(nil)
	mem := NewMemDevice(size)
	_, err := d.Create(name, mem, size, 0)
	require.NoError(t, err)
	return d, mem
}

func TestCreateLookup(t *testing.T) {
	d, _ := newTestDevfs(t, "mmc0", 4096)

	_, err := d.Create("mmc0", NewMemDevice(1), 1, 0)
	require.ErrorIs(t, err, errs.ErrExist)

	c, err := d.Lookup("/dev/mmc0")
	require.NoError(t, err)
	require.Equal(t, int64(4096), c.Size)

	_, err = d.Lookup("mmc1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReadWriteBounds(t *testing.T) {
	d, mem := newTestDevfs(t, "ram0", 1024)

	c, err := d.Open("ram0", true)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.WriteAt([]byte("hello"), 1020)
	require.ErrorIs(t, err, errs.ErrOutOfSpace)

	_, err = c.WriteAt([]byte("hello"), 1019)
	require.NoError(t, err)
	require.Equal(t, "hello", string(mem.Bytes()[1019:]))

	buf := make([]byte, 10)
	n, err := c.ReadAt(buf, 1019)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 5, n)

	_, err = c.ReadAt(buf, -1)
	require.ErrorIs(t, err, errs.ErrInvalid)

	require.ErrorIs(t, c.Erase(0, 512), errs.ErrUnsupportedOperation)
}

func TestAddPartitionPlacement(t *testing.T) {
	d, _ := newTestDevfs(t, "nor0", 1<<20)

	p1, err := d.AddPartition("nor0", PartitionInfo{Name: "nor0.barebox", Offset: 0, Size: 256 << 10})
	require.NoError(t, err)
	require.Equal(t, int64(0), p1.Offset)
	require.Equal(t, "barebox", p1.PartName)

	p2, err := d.AddPartition("nor0", PartitionInfo{Name: "nor0.env", Size: 128 << 10, Append: true})
	require.NoError(t, err)
	require.Equal(t, int64(256<<10), p2.Offset)

	// negative offset counts from the end, size 0 extends to the end
	p3, err := d.AddPartition("nor0", PartitionInfo{Name: "nor0.data", Offset: -(64 << 10)})
	require.NoError(t, err)
	require.Equal(t, int64(1<<20-64<<10), p3.Offset)
	require.Equal(t, int64(64<<10), p3.Size)

	// negative size leaves room at the end
	p4, err := d.AddPartition("nor0", PartitionInfo{Name: "nor0.kernel", Offset: 384 << 10, Size: -(64 << 10)})
	require.NoError(t, err)
	require.Equal(t, int64(1<<20-64<<10-384<<10), p4.Size)

	_, err = d.AddPartition("nor0", PartitionInfo{Name: "nor0.bad", Offset: 100, Size: 100})
	require.ErrorIs(t, err, errs.ErrOverlap)

	_, err = d.AddPartition("nor0", PartitionInfo{Name: "nor0.huge", Offset: 1 << 19, Size: 1 << 20})
	require.ErrorIs(t, err, errs.ErrInvalid)

	ov, err := d.AddPartition("nor0", PartitionInfo{Name: "nor0.all", Offset: 1, Size: 1<<20 - 1, Flags: FlagCanOverlap})
	require.NoError(t, err)
	require.False(t, ov.IsLink())

	// identical region becomes a link
	l, err := d.AddPartition("nor0", PartitionInfo{Name: "nor0.bootloader", Offset: 0, Size: 256 << 10})
	require.NoError(t, err)
	require.True(t, l.IsLink())
	require.Equal(t, p1, l.Target())

	// no room after nor0.all
	_, err = d.AddPartition("nor0", PartitionInfo{Name: "nor0.tail", Size: 1, Append: true})
	require.ErrorIs(t, err, errs.ErrInvalid)

	l, err = d.AddPartition("nor0", PartitionInfo{Name: "nor0.environment", Offset: 256 << 10, Size: 128 << 10})
	require.NoError(t, err)
	require.True(t, l.IsLink())
	require.Equal(t, p2, l.Target())
}

func TestAddPartitionOffsetZero(t *testing.T) {
	d, _ := newTestDevfs(t, "mmc0", 8<<20)

	_, err := d.AddPartition("mmc0", PartitionInfo{Name: "mmc01", Offset: 1 << 20, Size: 1 << 20})
	require.NoError(t, err)

	// a single partition at offset 0 stays at 0
	xload, err := d.AddPartition("mmc0", PartitionInfo{Name: "mmc0.xload", Offset: 0, Size: 128 << 10})
	require.NoError(t, err)
	require.Equal(t, int64(0), xload.Offset)

	appended, err := d.AddPartition("mmc0", PartitionInfo{Name: "mmc0.next", Size: 4096, Append: true})
	require.NoError(t, err)
	require.Equal(t, int64(128<<10), appended.Offset)
}

func TestCreatePartitionsRunningEnd(t *testing.T) {
	d, _ := newTestDevfs(t, "nor0", 1<<20)

	_, err := d.AddPartition("nor0", PartitionInfo{Name: "nor0.data", Offset: 512 << 10, Size: 256 << 10})
	require.NoError(t, err)

	err = d.CreatePartitions("nor0", []PartitionInfo{
		{Name: "nor0.barebox", Size: 256 << 10},
		{Name: "nor0.env", Size: 128 << 10},
		{Name: "nor0.tail", Offset: -(128 << 10)},
	})
	require.NoError(t, err)

	for name, want := range map[string]int64{
		"nor0.barebox": 0,
		"nor0.env":     256 << 10,
		"nor0.tail":    1<<20 - 128<<10,
	} {
		c, err := d.Lookup(name)
		require.NoError(t, err)
		require.Equal(t, want, c.Offset, name)
	}
}

func TestPartitionIO(t *testing.T) {
	d, mem := newTestDevfs(t, "mmc0", 8192)

	p, err := d.AddPartition("mmc0", PartitionInfo{Name: "mmc0.0", Offset: 4096, Size: 1024})
	require.NoError(t, err)

	_, err = p.WriteAt([]byte("abc"), 10)
	require.NoError(t, err)
	require.Equal(t, "abc", string(mem.Bytes()[4106:4109]))

	_, err = p.WriteAt(make([]byte, 2000), 0)
	require.ErrorIs(t, err, errs.ErrOutOfSpace)
	require.Equal(t, byte(0), mem.Bytes()[5120])
}

func TestDelPartition(t *testing.T) {
	d, _ := newTestDevfs(t, "mmc0", 8192)

	_, err := d.AddPartition("mmc0", PartitionInfo{Name: "mmc0.fixed", Offset: 512, Size: 512, Flags: FlagFixed})
	require.NoError(t, err)
	p, err := d.AddPartition("mmc0", PartitionInfo{Name: "mmc0.free", Size: 512})
	require.NoError(t, err)
	_, err = d.CreateLink(p, "free")
	require.NoError(t, err)

	require.ErrorIs(t, d.DelPartition("mmc0.fixed"), errs.ErrPermission)
	require.ErrorIs(t, d.DelPartition("mmc0"), errs.ErrInvalid)

	c, err := d.Open("mmc0.free", false)
	require.NoError(t, err)
	require.ErrorIs(t, d.DelPartition("mmc0.free"), errs.ErrBusy)
	require.NoError(t, c.Close())

	require.NoError(t, d.DelPartition("mmc0.free"))
	_, err = d.Lookup("free")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, d.Remove("mmc0"))
	require.Empty(t, d.List())
}

func TestReadOnly(t *testing.T) {
	d := New(nil)
	_, err := d.Create("rom0", NewMemDeviceFrom(bytes.Repeat([]byte{1}, 512)), 512, FlagReadOnly)
	require.NoError(t, err)

	_, err = d.Open("rom0", true)
	require.ErrorIs(t, err, errs.ErrDeviceOpenFailed)
	require.ErrorIs(t, err, errs.ErrPermission)

	p, err := d.AddPartition("rom0", PartitionInfo{Name: "rom0.a", Size: 256})
	require.NoError(t, err)
	_, err = p.WriteAt([]byte{0}, 0)
	require.ErrorIs(t, err, errs.ErrPermission)
}

func TestLookupUUID(t *testing.T) {
	d, _ := newTestDevfs(t, "mmc0", 8192)

	c, _ := d.Lookup("mmc0")
	c.DiskUUID = "0a0b0c0d"

	_, err := d.AddPartition("mmc0", PartitionInfo{Name: "mmc0.0", Offset: 512, Size: 512, PartUUID: "0a0b0c0d-01"})
	require.NoError(t, err)

	p, err := d.LookupPartUUID("0A0B0C0D-01")
	require.NoError(t, err)
	require.Equal(t, "mmc0.0", p.Name)

	disk, err := d.LookupDiskUUID("0a0b0c0d")
	require.NoError(t, err)
	require.Equal(t, "mmc0", disk.Name)
}
