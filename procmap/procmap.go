// Package procmap discovers a process's load base address for
// ASLR-relative addressing by reading its /proc/<pid>/maps pseudo-file
// (spec.md §4.6).
package procmap

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BaseAddress returns the lowest virtual address of pid's primary
// executable mapping: the left half of the address range on the first
// line of /proc/<pid>/maps.
func BaseAddress(pid int) (uint64, error) {
	path := fmt.Sprintf("/proc/%d/maps", pid)
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("procmap: %s is empty", path)
	}

	line := scanner.Text()
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("procmap: malformed first line %q", line)
	}

	addrRange := fields[0]
	lo, _, ok := strings.Cut(addrRange, "-")
	if !ok {
		return 0, fmt.Errorf("procmap: malformed address range %q", addrRange)
	}

	base, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("procmap: parsing base address %q: %w", lo, err)
	}
	return base, nil
}
