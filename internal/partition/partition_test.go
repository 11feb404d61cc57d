package partition

import (
	"bytes"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/internal/disk"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/pkg/dfxml"
	osutils "github.com/ostafen/bbupdate/pkg/util/os"
	"github.com/stretchr/testify/require"
)

func newTestDisk(t *testing.T, sectors int64) (*cdev.Devfs, *block.Device, *cdev.MemDevice) {
	t.Helper()

	d := cdev.New(nil)
	mem := cdev.NewMemDevice(sectors * block.SectorSize)
	c, err := d.Create("mmc0", mem, mem.Size(), 0)
	require.NoError(t, err)
	return d, block.New(c), mem
}

func readBack(t *testing.T, blk *block.Device) *Table {
	t.Helper()

	tbl, err := DefaultRegistry(nil).ReadTable(blk)
	require.NoError(t, err)
	return tbl
}

func requireNoOverlap(t *testing.T, tbl *Table) {
	t.Helper()

	first, last := tbl.Format().Usable(tbl)
	for i, a := range tbl.Parts {
		require.GreaterOrEqual(t, a.FirstSec, first)
		require.LessOrEqual(t, a.End()-1, last)
		for _, b := range tbl.Parts[i+1:] {
			require.False(t, regionOverlap(a.FirstSec, a.Size, b.FirstSec, b.Size), "%v overlaps %v", a, b)
		}
	}
}

func TestMBRCreateReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	_, err := osutils.EnsureFile(path, 1_000_000*block.SectorSize)
	require.NoError(t, err)

	d := cdev.New(nil)
	c, err := d.CreateLoop("disk0", path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { d.Remove("disk0") })

	blk := block.New(c)
	require.Equal(t, uint64(1_000_000), blk.NumBlocks())

	reg := DefaultRegistry(nil)
	tbl, err := reg.NewTable(blk, "msdos")
	require.NoError(t, err)

	_, err = tbl.Create("boot", "fat", 2048, 206848)
	require.NoError(t, err)
	require.NoError(t, tbl.Write())

	got, err := reg.ReadTable(blk)
	require.NoError(t, err)
	require.Equal(t, "msdos", got.Parser.Name())
	require.Len(t, got.Parts, 1)

	p := got.Parts[0]
	require.Equal(t, "boot", p.Name)
	require.Equal(t, uint64(2048), p.FirstSec)
	require.Equal(t, uint64(204800), p.Size)
	require.Equal(t, disk.PartitionTypeFAT32LBA, p.DOSType)
	require.Equal(t, tbl.DiskUUID+"-01", p.PartUUID)
}

func TestCreateOverlapLeavesDiskUnchanged(t *testing.T) {
	for _, name := range []string{"msdos", "gpt", "bfpt"} {
		t.Run(name, func(t *testing.T) {
			_, blk, mem := newTestDisk(t, 8192)

			tbl, err := DefaultRegistry(nil).NewTable(blk, name)
			require.NoError(t, err)

			_, err = tbl.Create("a", "", 2048, 4096)
			require.NoError(t, err)
			require.NoError(t, tbl.Write())

			before := bytes.Clone(mem.Bytes())

			for _, r := range [][2]uint64{{1024, 2049}, {4095, 5000}, {2048, 4096}, {3000, 3001}, {1000, 6000}} {
				_, err = tbl.Create("b", "", r[0], r[1])
				require.ErrorIs(t, err, errs.ErrOverlap, "range %v", r)
			}
			require.Len(t, tbl.Parts, 1)
			require.Equal(t, before, mem.Bytes())

			got := readBack(t, blk)
			require.Len(t, got.Parts, 1)
		})
	}
}

func TestCreateInvalidRange(t *testing.T) {
	_, blk, _ := newTestDisk(t, 8192)

	tbl, err := EFIParser{}.Create(blk)
	require.NoError(t, err)

	_, err = tbl.Create("x", "", 100, 100)
	require.ErrorIs(t, err, errs.ErrInvalid)

	_, err = tbl.Create("x", "", 200, 100)
	require.ErrorIs(t, err, errs.ErrInvalid)

	_, err = tbl.Create("x", "", 10, 100)
	require.ErrorIs(t, err, errs.ErrOutOfSpace)

	_, err = tbl.Create("x", "", 8000, 8192)
	require.ErrorIs(t, err, errs.ErrOutOfSpace)

	_, err = tbl.Create("x", "nosuchfs", 100, 200)
	require.ErrorIs(t, err, errs.ErrInvalid)
	require.Empty(t, tbl.Parts)
}

func TestGPTRoundTrip(t *testing.T) {
	_, blk, _ := newTestDisk(t, 16384)

	tbl, err := EFIParser{}.Create(blk)
	require.NoError(t, err)

	first, last := tbl.Format().Usable(tbl)
	require.Equal(t, uint64(34), first)
	require.Equal(t, uint64(16384-34), last)

	_, err = tbl.Create("boot", "fat", 2048, 4096)
	require.NoError(t, err)
	_, err = tbl.Create("root", "ext4", 4096, 12288)
	require.NoError(t, err)
	_, err = tbl.Create("barebox-environment", "bbenv", 12288, 12304)
	require.NoError(t, err)
	_, err = tbl.Create("", "21686148-6449-6e6f-744e-656564454649", 12304, 12400)
	require.NoError(t, err)

	require.NoError(t, tbl.Rename(1, "BOOT"))
	require.NoError(t, tbl.SetGUID(2, "6A898CC3-1DD2-11B2-99A6-080020736631"))
	require.ErrorIs(t, tbl.SetGUID(2, "not-a-guid"), errs.ErrInvalid)
	require.ErrorIs(t, tbl.Rename(1, "a-name-that-is-way-too-long-for-a-gpt-entry"), errs.ErrInvalid)

	require.NoError(t, tbl.Write())

	got := readBack(t, blk)
	require.Equal(t, "gpt", got.Parser.Name())
	require.Equal(t, tbl.DiskUUID, got.DiskUUID)
	require.Empty(t, cmp.Diff(tbl.Parts, got.Parts))

	require.Equal(t, GPTTypeBasicData, got.Parts[0].TypeUUID)
	require.Equal(t, GPTTypeLinux, got.Parts[1].TypeUUID)
	require.Equal(t, "6a898cc3-1dd2-11b2-99a6-080020736631", got.Parts[1].PartUUID)
	require.Equal(t, GPTTypeBareboxEnv, got.Parts[2].TypeUUID)

	sec, err := blk.ReadBlocks(0, 1)
	require.NoError(t, err)
	mbr, err := disk.ParseMBR(sec)
	require.NoError(t, err)
	require.Equal(t, disk.PartitionTypeGPTProtective, mbr.PartitionEntries[0].PartitionType)
	require.Equal(t, uint32(1), mbr.PartitionEntries[0].StartLBA)
}

func TestGPTFlagsRoundTrip(t *testing.T) {
	_, blk, _ := newTestDisk(t, 8192)

	tbl, err := EFIParser{}.Create(blk)
	require.NoError(t, err)

	p, err := tbl.Create("ro", "linux", 2048, 4096)
	require.NoError(t, err)
	p.Flags = FlagReadOnly | FlagBootable | FlagFixed
	require.NoError(t, tbl.Write())

	got := readBack(t, blk)
	require.Len(t, got.Parts, 1)
	require.Equal(t, FlagReadOnly|FlagBootable|FlagFixed, got.Parts[0].Flags)
	require.Equal(t, uint64(gptAttrReadOnly|gptAttrLegacyBootable|gptAttrRequired), got.Parts[0].TypeFlags)

	require.ErrorIs(t, got.Remove(1), errs.ErrPermission)
	require.Len(t, got.Parts, 1)
}

func TestGPTKeepsEntryCount(t *testing.T) {
	_, blk, _ := newTestDisk(t, 16384)

	tbl, err := EFIParser{}.Create(blk)
	require.NoError(t, err)

	// 256 entries need 64 sectors, more than the usable area leaves
	f := tbl.Format().(*efiFormat)
	f.hdr.NumEntries = 256
	p, err := tbl.Create("data", "linux", 2048, 4096)
	require.NoError(t, err)
	p.Num = 200
	require.ErrorIs(t, tbl.Write(), errs.ErrInvalid)

	f.hdr.FirstUsable = 2 + 64
	f.hdr.LastUsable = blk.LastLBA() - 64 - 1
	require.NoError(t, tbl.Write())

	got := readBack(t, blk)
	require.Equal(t, uint32(256), got.Format().(*efiFormat).hdr.NumEntries)
	require.Len(t, got.Parts, 1)
	require.Equal(t, 200, got.Parts[0].Num)
	require.Empty(t, cmp.Diff(tbl.Parts, got.Parts))

	// and it can be written back
	require.NoError(t, got.Write())
	require.Equal(t, 200, readBack(t, blk).Parts[0].Num)
}

func TestGPTAlternateFallback(t *testing.T) {
	_, blk, mem := newTestDisk(t, 8192)

	tbl, err := EFIParser{}.Create(blk)
	require.NoError(t, err)
	_, err = tbl.Create("data", "fat", 2048, 4096)
	require.NoError(t, err)
	require.NoError(t, tbl.Write())

	// Break the primary header checksum.
	mem.Bytes()[block.SectorSize+16] ^= 0xFF

	got := readBack(t, blk)
	require.Equal(t, "gpt", got.Parser.Name())
	require.Empty(t, cmp.Diff(tbl.Parts, got.Parts))

	// Without its signature the protective MBR is claimed first.
	clear(mem.Bytes()[block.SectorSize : 2*block.SectorSize])

	got = readBack(t, blk)
	require.Equal(t, "gpt", got.Parser.Name())
	require.Len(t, got.Parts, 1)

	// Writing repairs the primary copy.
	require.NoError(t, got.Write())
	_, _, err = readGPT(blk, mem.Bytes()[block.SectorSize:2*block.SectorSize], 1)
	require.NoError(t, err)
}

func TestGUIDMixedEndian(t *testing.T) {
	b := guidToDisk(GPTTypeESP)
	require.Equal(t, []byte{0x28, 0x73, 0x2A, 0xC1, 0x1F, 0xF8, 0xD2, 0x11, 0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B}, b)
	require.Equal(t, GPTTypeESP, guidFromDisk(b))
}

func TestDOSRoundTrip(t *testing.T) {
	_, blk, _ := newTestDisk(t, 65536)

	tbl, err := DOSParser{}.Create(blk)
	require.NoError(t, err)

	specs := []struct {
		name, fs string
		typ      disk.MBRPartition
	}{
		{"boot", "fat16", disk.PartitionTypeFAT16LBA},
		{"root", "ext4", disk.PartitionTypeLinuxFilesystem},
		{"swap", "swap", disk.PartitionTypeLinuxSwap},
		{"raw", "0xda", disk.MBRPartition(0xDA)},
	}
	for i, s := range specs {
		start := uint64(2048 * (i + 1))
		p, err := tbl.Create(s.name, s.fs, start, start+2048)
		require.NoError(t, err)
		require.Equal(t, i+1, p.Num)
		require.Equal(t, s.typ, p.DOSType)
	}

	_, err = tbl.Create("fifth", "fat", 20480, 22528)
	require.ErrorIs(t, err, errs.ErrOutOfSpace)

	require.ErrorIs(t, tbl.Rename(1, "x"), errs.ErrUnsupportedOperation)
	require.ErrorIs(t, tbl.SetGUID(1, "6A898CC3-1DD2-11B2-99A6-080020736631"), errs.ErrUnsupportedOperation)

	require.NoError(t, tbl.Write())

	got := readBack(t, blk)
	require.Equal(t, tbl.DiskUUID, got.DiskUUID)
	require.Empty(t, cmp.Diff(tbl.Parts, got.Parts))

	require.NoError(t, got.Remove(2))
	require.ErrorIs(t, got.Remove(2), errs.ErrNotFound)

	p, err := got.Create("new", "linux", 30000, 31000)
	require.NoError(t, err)
	require.Equal(t, 2, p.Num)
}

func TestDOSBootCodePreserved(t *testing.T) {
	_, blk, mem := newTestDisk(t, 8192)

	code := bytes.Repeat([]byte{0xEB, 0x3C, 0x90}, disk.DiskSignatureOffset/3)
	copy(mem.Bytes(), code)

	tbl, err := DOSParser{}.Create(blk)
	require.NoError(t, err)
	_, err = tbl.Create("", "linux", 2048, 8192)
	require.NoError(t, err)
	require.NoError(t, tbl.Write())

	require.Equal(t, code, mem.Bytes()[:len(code)])
	require.Equal(t, "", readBack(t, blk).Parts[0].Name)
}

func TestDOSLabelSectorNotClobbered(t *testing.T) {
	_, blk, mem := newTestDisk(t, 8192)

	foreign := bytes.Repeat([]byte{0x5A}, block.SectorSize)
	copy(mem.Bytes()[block.SectorSize:], foreign)

	tbl, err := DOSParser{}.Create(blk)
	require.NoError(t, err)
	_, err = tbl.Create("boot", "fat", 2048, 4096)
	require.NoError(t, err)
	require.NoError(t, tbl.Write())

	require.Equal(t, foreign, mem.Bytes()[block.SectorSize:2*block.SectorSize])

	got := readBack(t, blk)
	require.Len(t, got.Parts, 1)
	require.Empty(t, got.Parts[0].Name)
}

func putMBR(t *testing.T, mem *cdev.MemDevice, lba uint64, entries ...disk.MBRPartitionEntry) {
	t.Helper()

	m := disk.MBR{DiskSignature: 0x12345678}
	copy(m.PartitionEntries[:], entries)
	copy(mem.Bytes()[lba*block.SectorSize:], m.Marshal())
}

func TestDOSLogicalPartitions(t *testing.T) {
	_, blk, mem := newTestDisk(t, 8192)

	putMBR(t, mem, 0,
		disk.NewMBRPartitionEntry(disk.PartitionTypeLinuxFilesystem, 2048, 1024, true),
		disk.NewMBRPartitionEntry(disk.PartitionTypeExtendedLBA, 4096, 4096, false))
	putMBR(t, mem, 4096,
		disk.NewMBRPartitionEntry(disk.PartitionTypeLinuxFilesystem, 1, 1000, false),
		disk.NewMBRPartitionEntry(disk.PartitionTypeExtendedCHS, 2048, 1001, false))
	putMBR(t, mem, 6144,
		disk.NewMBRPartitionEntry(disk.PartitionTypeFAT32LBA, 1, 1000, false))

	tbl := readBack(t, blk)
	require.Equal(t, "12345678", tbl.DiskUUID)

	want := []*Partition{
		{PartUUID: "12345678-01", FirstSec: 2048, Size: 1024, DOSType: disk.PartitionTypeLinuxFilesystem,
			Flags: FlagBootable, TypeFlags: disk.BootIndicatorActive, Num: 1},
		{PartUUID: "12345678-05", FirstSec: 4097, Size: 1000, DOSType: disk.PartitionTypeLinuxFilesystem, Num: 5},
		{PartUUID: "12345678-06", FirstSec: 6145, Size: 1000, DOSType: disk.PartitionTypeFAT32LBA, Num: 6},
	}
	require.Empty(t, cmp.Diff(want, tbl.Parts))

	// The extended container is not allocatable.
	_, err := tbl.Create("x", "linux", 5000, 5100)
	require.ErrorIs(t, err, errs.ErrOverlap)

	p, err := tbl.Create("x", "linux", 100, 200)
	require.NoError(t, err)
	require.Equal(t, 3, p.Num)

	require.NoError(t, tbl.Remove(5))
	require.NoError(t, tbl.Write())

	got := readBack(t, blk)
	require.Len(t, got.Parts, 3)

	logical, err := got.Lookup(5)
	require.NoError(t, err)
	require.Equal(t, uint64(6145), logical.FirstSec)
	require.Equal(t, uint64(1000), logical.Size)
	require.Equal(t, disk.PartitionTypeFAT32LBA, logical.DOSType)

	named, err := got.LookupName("x")
	require.NoError(t, err)
	require.Equal(t, 3, named.Num)
}

func TestDOSTypeMapping(t *testing.T) {
	for fs, want := range map[string]disk.MBRPartition{
		"fat":   disk.PartitionTypeFAT32LBA,
		"FAT32": disk.PartitionTypeFAT32LBA,
		"fat16": disk.PartitionTypeFAT16LBA,
		"ext2":  disk.PartitionTypeLinuxFilesystem,
		"ext3":  disk.PartitionTypeLinuxFilesystem,
		"linux": disk.PartitionTypeLinuxFilesystem,
		"swap":  disk.PartitionTypeLinuxSwap,
		"bbenv": disk.PartitionTypeBareboxEnv,
		"0x7":   disk.PartitionTypeNTFSHPFSexFATQNX,
	} {
		got, err := dosTypeFor(fs)
		require.NoError(t, err, fs)
		require.Equal(t, want, got, fs)
	}

	for _, fs := range []string{"xfs", "0x", "0x100", "0x00"} {
		_, err := dosTypeFor(fs)
		require.ErrorIs(t, err, errs.ErrInvalid, fs)
	}
}

func TestBFPTRoundTrip(t *testing.T) {
	_, blk, mem := newTestDisk(t, 8192)

	tbl, err := BFPTParser{}.Create(blk)
	require.NoError(t, err)

	_, err = tbl.Create("FW", "0", 16, 816)
	require.NoError(t, err)
	_, err = tbl.Create("media", "0x03", 1000, 1200)
	require.NoError(t, err)

	_, err = tbl.Create("toolongname", "0", 2000, 2100)
	require.ErrorIs(t, err, errs.ErrInvalid)
	_, err = tbl.Create("a", "0", 8, 12)
	require.ErrorIs(t, err, errs.ErrOutOfSpace)

	require.NoError(t, tbl.Rename(2, "PSM"))
	require.ErrorIs(t, tbl.SetGUID(1, "6A898CC3-1DD2-11B2-99A6-080020736631"), errs.ErrUnsupportedOperation)
	require.NoError(t, tbl.Write())

	require.Equal(t, mem.Bytes()[:BFPTCopySize], mem.Bytes()[BFPTCopySize:2*BFPTCopySize])

	got := readBack(t, blk)
	require.Equal(t, "bfpt", got.Parser.Name())
	require.Empty(t, cmp.Diff(tbl.Parts, got.Parts))

	// A damaged first copy falls back to the second one.
	mem.Bytes()[bfptHeaderSize] ^= 0xFF

	got = readBack(t, blk)
	require.Empty(t, cmp.Diff(tbl.Parts, got.Parts))

	// So does a first copy without its magic.
	mem.Bytes()[0] = 'X'

	got = readBack(t, blk)
	require.Equal(t, "bfpt", got.Parser.Name())
	require.Empty(t, cmp.Diff(tbl.Parts, got.Parts))
}

const bfptConfig = `
[pt_table]
address0 = 0x0
address1 = 0x1000

[[pt_entry]]
type = 0
name = "FW"
device = 0
address0 = 0x10000
size0 = 0xC8000
address1 = 0xD8000
size1 = 0x88000
len = 0
bin0 = "fw.bin"

[[pt_entry]]
type = 2
name = "mfg"
device = 0
address0 = 0x160000
size0 = 0x32000
address1 = 0
size1 = 0
len = 0
`

func TestBFPTConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partition.toml")
	require.NoError(t, writeFile(path, bfptConfig))

	cfg, err := LoadBFPTConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Entries, 2)
	require.Equal(t, "fw.bin", cfg.Entries[0].Bin0)
	require.Equal(t, uint8(2), cfg.Entries[1].Type)

	_, blk, _ := newTestDisk(t, 8192)

	tbl, err := cfg.Table(blk)
	require.NoError(t, err)
	require.NoError(t, tbl.Write())

	got := readBack(t, blk)
	require.Len(t, got.Parts, 2)
	require.Equal(t, uint64(0x10000/block.SectorSize), got.Parts[0].FirstSec)
	require.Equal(t, uint64(0xC8000/block.SectorSize), got.Parts[0].Size)
	require.Equal(t, disk.MBRPartition(2), got.Parts[1].DOSType)

	x := got.Format().(*bfptFormat).extra[got.Parts[0]]
	require.Equal(t, uint32(0xD8000), x.Address1)
	require.Equal(t, uint32(0x88000), x.Size1)

	_, err = LoadBFPTConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestFindFreeSpace(t *testing.T) {
	_, blk, _ := newTestDisk(t, 16384)

	tbl, err := EFIParser{}.Create(blk)
	require.NoError(t, err)

	start, err := tbl.FindFreeSpace(100, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(PartitionAlignSectors), start)

	_, err = tbl.Create("a", "", 2048, 4096)
	require.NoError(t, err)

	start, err = tbl.FindFreeSpace(10000, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), start)

	start, err = tbl.FindFreeSpace(100, 4097)
	require.NoError(t, err)
	require.Equal(t, uint64(6144), start)

	_, err = tbl.FindFreeSpace(2048*6, 0)
	require.ErrorIs(t, err, errs.ErrOutOfSpace)

	// sizes and starts that would wrap around
	_, err = tbl.FindFreeSpace(math.MaxUint64-100, 0)
	require.ErrorIs(t, err, errs.ErrOutOfSpace)
	_, err = tbl.FindFreeSpace(100, math.MaxUint64-10)
	require.ErrorIs(t, err, errs.ErrOutOfSpace)

	_, err = tbl.FindFreeSpace(0, 0)
	require.ErrorIs(t, err, errs.ErrInvalid)
}

func TestRandomOperationsKeepPartitionsDisjoint(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for _, name := range []string{"msdos", "gpt", "bfpt"} {
		t.Run(name, func(t *testing.T) {
			_, blk, _ := newTestDisk(t, 32768)

			tbl, err := DefaultRegistry(nil).NewTable(blk, name)
			require.NoError(t, err)

			for range 300 {
				if len(tbl.Parts) > 0 && rnd.Intn(3) == 0 {
					p := tbl.Parts[rnd.Intn(len(tbl.Parts))]
					require.NoError(t, tbl.Remove(p.Num))
					continue
				}

				if rnd.Intn(2) == 0 {
					size := uint64(rnd.Intn(4096) + 1)
					if start, err := tbl.FindFreeSpace(size, 0); err == nil {
						require.Zero(t, start%PartitionAlignSectors)
						_, err := tbl.Create("", "", start, start+size)
						if err != nil {
							require.ErrorIs(t, err, errs.ErrOutOfSpace)
						}
					}
				} else {
					start := uint64(rnd.Intn(32768))
					end := start + uint64(rnd.Intn(4096)+1)
					_, _ = tbl.Create("", "", start, end)
				}
				requireNoOverlap(t, tbl)
			}

			require.NoError(t, tbl.Write())
			got := readBack(t, blk)
			requireNoOverlap(t, got)
			require.Empty(t, cmp.Diff(tbl.Parts, got.Parts,
				cmpopts.SortSlices(func(a, b *Partition) bool { return a.Num < b.Num })))
		})
	}
}

func TestRegistry(t *testing.T) {
	_, blk, _ := newTestDisk(t, 1024)

	reg := DefaultRegistry(nil)
	names := []string{}
	for _, p := range reg.Parsers() {
		names = append(names, p.Name())
	}
	require.Equal(t, []string{"gpt", "msdos", "bfpt"}, names)

	_, err := reg.ReadTable(blk)
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = reg.NewTable(blk, "amiga")
	require.ErrorIs(t, err, errs.ErrUnsupportedFormat)

	_, err = NewRegistry(nil).ReadTable(blk)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRegisterPartitions(t *testing.T) {
	d, blk, _ := newTestDisk(t, 16384)

	_, err := d.AddPartition("mmc0", cdev.PartitionInfo{
		Name:   "mmc0.xload",
		Offset: 1 << 20 >> 2,
		Size:   16 * block.SectorSize,
		Flags:  cdev.FlagFixed,
	})
	require.NoError(t, err)

	tbl, err := EFIParser{}.Create(blk)
	require.NoError(t, err)
	boot, err := tbl.Create("boot", "fat", 2048, 4096)
	require.NoError(t, err)
	_, err = tbl.Create("", "linux", 4096, 8192)
	require.NoError(t, err)
	require.NoError(t, tbl.Write())

	reg := DefaultRegistry(nil)
	_, err = reg.Reparse(d, "mmc0")
	require.NoError(t, err)

	c, err := d.Lookup("mmc0.boot")
	require.NoError(t, err)
	require.Equal(t, int64(2048*block.SectorSize), c.Offset)
	require.Equal(t, int64(2048*block.SectorSize), c.Size)
	require.True(t, c.IsPartition())

	c, err = d.LookupPartUUID(boot.PartUUID)
	require.NoError(t, err)
	require.Equal(t, "mmc0.boot", c.Name)

	_, err = d.Lookup("mmc02")
	require.NoError(t, err)

	c, err = d.LookupDiskUUID(tbl.DiskUUID)
	require.NoError(t, err)
	require.Equal(t, "mmc0", c.Name)

	require.NoError(t, tbl.Remove(2))
	require.NoError(t, tbl.Write())

	_, err = reg.Reparse(d, "mmc0")
	require.NoError(t, err)

	_, err = d.Lookup("mmc02")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = d.Lookup("mmc0.xload")
	require.NoError(t, err)

	open, err := d.Open("mmc0.boot", false)
	require.NoError(t, err)
	_, err = reg.Reparse(d, "mmc0")
	require.ErrorIs(t, err, errs.ErrBusy)
	require.NoError(t, open.Close())
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestWriteReport(t *testing.T) {
	_, blk, _ := newTestDisk(t, 16384)

	tbl, err := EFIParser{}.Create(blk)
	require.NoError(t, err)
	p, err := tbl.Create("boot", "esp", 2048, 4096)
	require.NoError(t, err)
	_, err = tbl.Create("root", "ext4", 4096, 16000)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteReport(&buf))

	src, parts, err := dfxml.ReadReport(&buf)
	require.NoError(t, err)
	require.Equal(t, "gpt", src.PartitionTable)
	require.Equal(t, tbl.DiskUUID, src.DiskUUID)
	require.Equal(t, uint64(16384*512), src.ImageSize)

	require.Len(t, parts, 2)
	require.Equal(t, "boot", parts[0].Name)
	require.Equal(t, p.PartUUID, parts[0].PartUUID)
	require.Equal(t, GPTTypeESP.String(), parts[0].Type)
	require.Equal(t, uint64(2048*512), parts[0].ByteRuns.Runs[0].ImgOffset)
	require.Equal(t, uint64(2048*512), parts[0].Size())
}
