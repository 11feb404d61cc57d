package fs

import (
	"io"
	"os"
	"runtime"
	"strings"
	"unicode"
)

// File is a disk image or a raw block device opened for random access.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Stat() (os.FileInfo, error)
	Sync() error
}

// NormalizePath turns drive letters such as "C:" into raw volume paths on Windows.
// Other platforms get the path back untouched.
func NormalizePath(path string) string {
	if runtime.GOOS != "windows" {
		return path
	}

	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, "/", `\`)
	upper := strings.ToUpper(path)

	if strings.HasPrefix(upper, `\\.\`) {
		return upper
	}

	if len(upper) >= 2 && upper[1] == ':' && unicode.IsLetter(rune(upper[0])) {
		return `\\.\` + string(upper[0]) + `:`
	}
	return path
}
