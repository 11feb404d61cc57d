package dfxml

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"strings"
)

const unknown = "unknown"

// hostRelease returns the distribution name and version of the running
// system. Only Linux exposes them without spawning tools.
func hostRelease() (string, string) {
	if runtime.GOOS != "linux" {
		return unknown, unknown
	}

	f, err := os.Open("/etc/os-release")
	if err != nil {
		return unknown, unknown
	}
	defer f.Close()

	return parseOSRelease(f)
}

// parseOSRelease reads NAME and VERSION_ID from an os-release file.
// PRETTY_NAME is used when NAME is missing.
func parseOSRelease(r io.Reader) (string, string) {
	fields := map[string]string{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || strings.HasPrefix(key, "#") {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}

	name := fields["NAME"]
	if name == "" {
		name = fields["PRETTY_NAME"]
	}
	version := fields["VERSION_ID"]

	if name == "" {
		name = unknown
	}
	if version == "" {
		version = unknown
	}
	return name, version
}
