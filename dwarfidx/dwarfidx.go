// Package dwarfidx parses the DWARF debug information embedded in a mapped
// ELF executable and resolves function names to entry addresses and
// program counters to source locations (spec.md §4.5).
package dwarfidx

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Index is a read-mostly view over an executable's DWARF sections, plus a
// cache from function name to its DWARF-space entry addresses.
type Index struct {
	elf   *elf.File
	dwarf *dwarf.Data

	mu    sync.Mutex
	cache map[string][]uint64
}

// Load memory-maps path read-only and parses its ELF and DWARF sections.
// The mapping is deliberately never unmapped: the DWARF reader holds
// borrowed byte slices into it for the lifetime of the Index, which in
// this debugger is the lifetime of the process (spec.md §4.5, §9).
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dwarfidx: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("dwarfidx: %s is empty", path)
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("dwarfidx: mmap %s: %w", path, err)
	}

	elfFile, err := elf.NewFile(bytes.NewReader(mapped))
	if err != nil {
		return nil, fmt.Errorf("dwarfidx: parse ELF header of %s: %w", path, err)
	}

	section := func(name string) []byte {
		sec := elfFile.Section(name)
		if sec == nil {
			return nil
		}
		data, err := sec.Data()
		if err != nil {
			slog.Warn("dwarfidx: could not read debug section, treating as absent", "section", name, "error", err)
			return nil
		}
		return data
	}

	data, err := dwarf.New(
		section(".debug_abbrev"),
		section(".debug_aranges"),
		section(".debug_frame"),
		section(".debug_info"),
		section(".debug_line"),
		section(".debug_pubnames"),
		section(".debug_ranges"),
		section(".debug_str"),
	)
	if err != nil {
		return nil, fmt.Errorf("dwarfidx: %w", err)
	}

	return &Index{
		elf:   elfFile,
		dwarf: data,
		cache: make(map[string][]uint64),
	}, nil
}

// FunctionAddresses resolves function to every DWARF-space entry address
// (subprogram low_pc, or inlined_subroutine site low_pc) whose name
// matches, caching the result (spec.md §4.5 P5).
func (idx *Index) FunctionAddresses(function string) ([]uint64, error) {
	idx.mu.Lock()
	if cached, ok := idx.cache[function]; ok {
		idx.mu.Unlock()
		return cached, nil
	}
	idx.mu.Unlock()

	addrs, err := idx.scanFunctionAddresses(function)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	idx.cache[function] = addrs
	idx.mu.Unlock()
	return addrs, nil
}

func (idx *Index) scanFunctionAddresses(function string) ([]uint64, error) {
	var addrs []uint64

	r := idx.dwarf.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram && entry.Tag != dwarf.TagInlinedSubroutine {
			continue
		}

		name, ok := idx.entryName(entry)
		if !ok || name != function {
			continue
		}

		lowpc, ok := entry.Val(dwarf.AttrLowpc).(uint64)
		if !ok {
			continue
		}
		addrs = append(addrs, lowpc)
	}

	return addrs, nil
}

// entryName returns an entry's DW_AT_name, resolving through
// DW_AT_abstract_origin for inlined_subroutine entries that name their
// concrete subprogram indirectly.
func (idx *Index) entryName(entry *dwarf.Entry) (string, bool) {
	if name, ok := entry.Val(dwarf.AttrName).(string); ok {
		return name, true
	}
	if entry.Tag != dwarf.TagInlinedSubroutine {
		return "", false
	}

	originOff, ok := entry.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
	if !ok {
		return "", false
	}

	r := idx.dwarf.Reader()
	r.Seek(originOff)
	origin, err := r.Next()
	if err != nil || origin == nil {
		return "", false
	}
	name, ok := origin.Val(dwarf.AttrName).(string)
	return name, ok
}

// CodePoint is the result of resolving a runtime program counter: the
// owning function's name, source file and line (all optional — HasFunc /
// HasLine are false, and the matching fields left zero, when no enclosing
// function or line row was found), and the runtime address that was
// queried (spec.md §3).
type CodePoint struct {
	PC       uint64
	Function string
	HasFunc  bool
	File     string
	Line     int
	HasLine  bool
}

// highPC resolves a subprogram/inlined_subroutine entry's DW_AT_high_pc,
// which per DWARF may be an absolute address or a length relative to
// low_pc encoded as a 1/2/4/8-byte unsigned, a signed, or an
// arbitrary-precision unsigned constant. A negative signed length is an
// error (spec.md §4.5).
func highPC(entry *dwarf.Entry, lowpc uint64) (uint64, bool, error) {
	for _, field := range entry.Field {
		if field.Attr != dwarf.AttrHighpc {
			continue
		}
		switch field.Class {
		case dwarf.ClassAddress:
			v, _ := field.Val.(uint64)
			return v, true, nil
		case dwarf.ClassConstant:
			switch v := field.Val.(type) {
			case int64:
				if v < 0 {
					return 0, false, fmt.Errorf("dwarfidx: negative high_pc length %d", v)
				}
				return lowpc + uint64(v), true, nil
			case uint64:
				return lowpc + v, true, nil
			default:
				return 0, false, fmt.Errorf("dwarfidx: unsupported high_pc constant type %T", v)
			}
		default:
			return 0, false, fmt.Errorf("dwarfidx: unsupported high_pc class %v", field.Class)
		}
	}
	return 0, false, nil
}

// PCToCodePoint resolves a runtime PC to its owning function and source
// location, converting it to a DWARF-space PC by subtracting the load
// base passed as "base". It scans every compilation unit's subprograms and inlined
// subroutines for the narrowest enclosing range — tie-broken by greatest
// low_pc, so inlined frames shadow their outer subprogram — and separately
// scans that unit's line-number program for the row with the greatest
// address not exceeding the DWARF PC (spec.md §4.5, P6).
//
// Functions whose range is only expressed via DW_AT_ranges (range lists)
// are not resolved: per spec.md §9's open question, this is treated the
// same as no enclosing function being found.
func (idx *Index) PCToCodePoint(runtimePC, base uint64) (CodePoint, error) {
	dwarfPC := runtimePC - base
	cp := CodePoint{PC: runtimePC}

	var bestEntry *dwarf.Entry
	var bestCU *dwarf.Entry
	var bestLow, bestWidth uint64
	var currentCU *dwarf.Entry

	r := idx.dwarf.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return CodePoint{}, err
		}
		if entry == nil {
			break
		}

		if entry.Tag == dwarf.TagCompileUnit {
			currentCU = entry
			continue
		}
		if entry.Tag != dwarf.TagSubprogram && entry.Tag != dwarf.TagInlinedSubroutine {
			continue
		}

		lowpc, ok := entry.Val(dwarf.AttrLowpc).(uint64)
		if !ok {
			continue
		}
		highpc, ok, err := highPC(entry, lowpc)
		if err != nil {
			return CodePoint{}, err
		}
		if !ok || dwarfPC < lowpc || dwarfPC >= highpc {
			continue
		}

		width := highpc - lowpc
		if bestEntry == nil || width < bestWidth || (width == bestWidth && lowpc > bestLow) {
			bestEntry = entry
			bestLow = lowpc
			bestWidth = width
			bestCU = currentCU
		}
	}

	if bestEntry == nil {
		return cp, nil
	}

	if name, ok := idx.entryName(bestEntry); ok {
		cp.Function = name
		cp.HasFunc = true
	}

	if bestCU != nil {
		file, line, ok, err := idx.lineForPC(bestCU, dwarfPC)
		if err != nil {
			return CodePoint{}, err
		}
		if ok {
			cp.File = file
			cp.Line = line
			cp.HasLine = true
		}
	}

	return cp, nil
}

func (idx *Index) lineForPC(cu *dwarf.Entry, dwarfPC uint64) (string, int, bool, error) {
	lr, err := idx.dwarf.LineReader(cu)
	if err != nil {
		return "", 0, false, err
	}
	if lr == nil {
		return "", 0, false, nil
	}

	var best dwarf.LineEntry
	found := false

	var entry dwarf.LineEntry
	for {
		err := lr.Next(&entry)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, false, err
		}
		if entry.EndSequence {
			continue
		}
		if entry.Address > dwarfPC {
			continue
		}
		if !found || entry.Address > best.Address {
			best = entry
			found = true
		}
	}

	if !found {
		return "", 0, false, nil
	}
	file := ""
	if best.File != nil {
		file = best.File.Name
	}
	return file, best.Line, true, nil
}
