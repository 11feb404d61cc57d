package fs

import (
	"runtime"
	"strings"
	"unicode"
)

// NormalizeVolumePath turns a Windows drive path such as "C:" or "c:\" into
// the raw volume path \\.\C:. Other paths, and every path on other systems,
// are returned unchanged.
func NormalizeVolumePath(path string) string {
	return normalizeVolumePath(path, runtime.GOOS)
}

func normalizeVolumePath(path, goos string) string {
	if goos != "windows" {
		return path
	}

	path = strings.ReplaceAll(strings.TrimSpace(path), "/", `\`)
	if strings.HasPrefix(path, `\\.\`) {
		return strings.ToUpper(path)
	}

	drive := strings.TrimSuffix(path, `\`)
	if len(drive) == 2 && drive[1] == ':' && unicode.IsLetter(rune(drive[0])) {
		return `\\.\` + strings.ToUpper(drive)
	}
	return path
}
