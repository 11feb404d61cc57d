package board

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ostafen/bbupdate/internal/bbu"
	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/stretchr/testify/require"
)

const testBoard = `
[memory]
size = "1M"

[[device]]
name = "ram0"
type = "ram"

[[device]]
name = "nand0"
type = "nand"
size = "1M"
page_size = "2K"
erase_size = "128K"
bad_blocks = [1]

[[device]]
name = "m25p0"
type = "nor"
size = "512K"
erase_size = "64K"

[[partition]]
device = "nand0"
name = "nand0.barebox"
offset = "0"
size = "512K"
flags = ["fixed"]
bbname = "nand0.barebox.bb"

[[partition]]
device = "nand0"
name = "nand0.env"
size = "-128K"

[[partition]]
device = "ram0"
name = "ram0.table"
offset = "128K"
size = "256K"

[[partition]]
device = "ram0"
name = "ram0.xload"
offset = "0"
size = "64K"

[[partition]]
device = "m25p0"
name = "m25p0.barebox"
offset = "0"
size = "256K"

[[handler]]
name = "nand"
type = "nand"
device = "/dev/nand0.barebox"
default = true
verify = true

[[handler]]
name = "spinor"
type = "nor"
device = "/dev/m25p0.barebox"
`

func TestSetup(t *testing.T) {
	cfg, err := Parse([]byte(testBoard))
	require.NoError(t, err)

	s, err := Setup(cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	ram, err := s.Devfs.Lookup("ram0")
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), ram.Size)

	bb, err := s.Devfs.Lookup("/dev/nand0.barebox.bb")
	require.NoError(t, err)
	require.Equal(t, int64(3*128<<10), bb.Size)
	require.NotZero(t, bb.Flags&cdev.FlagBadBlock)

	env, err := s.Devfs.Lookup("nand0.env")
	require.NoError(t, err)
	require.Equal(t, int64(512<<10), env.Offset)
	require.Equal(t, int64(384<<10), env.Size)

	// an explicit offset 0 is absolute even after other partitions
	xload, err := s.Devfs.Lookup("ram0.xload")
	require.NoError(t, err)
	require.Equal(t, int64(0), xload.Offset)
	require.False(t, xload.IsLink())

	h, err := s.BBU.Default()
	require.NoError(t, err)
	require.Equal(t, "nand", h.Name())
	require.Len(t, s.BBU.Handlers(), 2)

	require.Contains(t, s.NAND, "nand0")
	require.Contains(t, s.NOR, "m25p0")
}

func TestSetupUpdate(t *testing.T) {
	cfg, err := Parse([]byte(testBoard))
	require.NoError(t, err)

	s, err := Setup(cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	image := make([]byte, 200<<10)
	copy(image[0x20:], "barebox\x00")

	err = s.BBU.Update(&bbu.Env{Devfs: s.Devfs}, &bbu.Data{Image: image, Flags: bbu.FlagYes})
	require.NoError(t, err)

	// Block 1 is bad, so the second half of the image lands in block 2.
	data := s.NAND["nand0"].Bytes()
	require.Equal(t, image[:128<<10], data[:128<<10])
	require.Equal(t, image[128<<10:], data[256<<10:256<<10+len(image)-128<<10])

	err = s.BBU.Update(&bbu.Env{Devfs: s.Devfs}, &bbu.Data{Image: image, HandlerName: "spinor", Flags: bbu.FlagYes})
	require.NoError(t, err)
	require.Equal(t, image, s.NOR["m25p0"].Bytes()[:len(image)])
}

func TestSetupScansDisk(t *testing.T) {
	dir := t.TempDir()
	board := `
[[device]]
name = "mmc0"
type = "file"
path = "mmc0.img"
size = "8M"
scan = true
`
	path := filepath.Join(dir, "board.toml")
	require.NoError(t, os.WriteFile(path, []byte(board), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	s, err := Setup(cfg, nil)
	require.NoError(t, err)
	require.Empty(t, s.Tables)

	c, err := s.Devfs.Lookup("mmc0")
	require.NoError(t, err)

	tbl, err := s.Parts.NewTable(block.New(c), "gpt")
	require.NoError(t, err)
	_, err = tbl.Create("boot", "fat32", 2048, 4096)
	require.NoError(t, err)
	_, err = tbl.Create("root", "ext4", 4096, 8192)
	require.NoError(t, err)
	require.NoError(t, tbl.Write())
	require.NoError(t, s.Close())

	s, err = Setup(cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	require.Contains(t, s.Tables, "mmc0")
	require.Len(t, s.Tables["mmc0"].Parts, 2)

	boot, err := s.Devfs.Lookup("mmc0.boot")
	require.NoError(t, err)
	require.Equal(t, int64(2048*512), boot.Offset)
	require.Equal(t, int64(2048*512), boot.Size)
	require.NotEmpty(t, boot.PartUUID)
}

func TestSetupMmap(t *testing.T) {
	dir := t.TempDir()
	board := `
[[device]]
name = "ram1"
type = "mmap"
path = "ram1.img"
size = "64K"
`
	path := filepath.Join(dir, "board.toml")
	require.NoError(t, os.WriteFile(path, []byte(board), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	s, err := Setup(cfg, nil)
	require.NoError(t, err)

	c, err := s.Devfs.Open("ram1", true)
	require.NoError(t, err)
	_, err = c.WriteAt([]byte("hello"), 100)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(dir, "ram1.img"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data[100:105])
}

func TestConfigErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		board string
	}{
		{"unknown device type", "[[device]]\nname = \"x\"\ntype = \"floppy\"\n"},
		{"file without path", "[[device]]\nname = \"x\"\ntype = \"file\"\n"},
		{"bad partition flag", "[[partition]]\ndevice = \"x\"\nname = \"x.a\"\nflags = [\"weird\"]\n"},
		{"unknown handler type", "[[handler]]\nname = \"h\"\ntype = \"jtag\"\ndevice = \"x\"\n"},
		{"xload without slots", "[[handler]]\nname = \"h\"\ntype = \"xload\"\n"},
		{"bad restore policy", "[[handler]]\nname = \"h\"\ntype = \"mlo\"\ndevice = \"x\"\nrestore = \"never\"\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.board))
			require.ErrorIs(t, err, errs.ErrInvalid)
		})
	}

	_, err := Parse([]byte("[[device]]\nname = \"x\"\ntype = \"ram\"\n[[device]]\nname = \"x\"\ntype = \"ram\"\n"))
	require.ErrorIs(t, err, errs.ErrExist)
}

func TestSetupFailureReleasesDevices(t *testing.T) {
	cfg, err := Parse([]byte(`
[[device]]
name = "ram0"
type = "ram"
size = "64K"

[[partition]]
device = "ram0"
name = "ram0.a"
offset = "0"
size = "128K"
`))
	require.NoError(t, err)

	_, err = Setup(cfg, nil)
	require.ErrorIs(t, err, errs.ErrInvalid)
}
