// Package arch describes the architecture-specific details the rest of the
// debugger is parameterised on: register layout, the program-counter
// register, and the trap instruction used for software breakpoints. Only
// x86-64 is implemented; other architectures would add a sibling file and a
// build-tag-selected Register set.
package arch

import (
	"fmt"
	"io"
	"strings"
	"unsafe"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"golang.org/x/sys/unix"
)

// Register names one of the 27 fields of the kernel's x86-64 register
// struct (struct user_regs_struct), in the exact order the kernel lays
// them out. The ordering matters: Get/Set index into *unix.PtraceRegs by
// treating it as a flat array of uint64, so a Register's numeric value
// must match its struct field's position.
type Register uint8

const (
	R15 Register = iota
	R14
	R13
	R12
	RBP
	RBX
	R11
	R10
	R9
	R8
	RAX
	RCX
	RDX
	RSI
	RDI
	OrigRax
	RIP
	CS
	RFLAGS
	RSP
	SS
	FSBase
	GSBase
	DS
	ES
	FS
	GS

	numRegisters
)

// NumRegisters is the number of architectural registers enumerated above.
const NumRegisters = int(numRegisters)

// PCRegister is the program-counter register for this architecture.
const PCRegister = RIP

// TrapInstruction is the one-byte software-breakpoint opcode (INT3).
const TrapInstruction byte = 0xCC

// TrapPCAdjustment is how far the PC overshoots the trapped instruction
// after a breakpoint fires: the CPU has already retired the INT3 byte, so
// PC is one past the address that was patched.
const TrapPCAdjustment = 1

var registerNames = [numRegisters]string{
	R15: "r15", R14: "r14", R13: "r13", R12: "r12",
	RBP: "rbp", RBX: "rbx", R11: "r11", R10: "r10", R9: "r9", R8: "r8",
	RAX: "rax", RCX: "rcx", RDX: "rdx", RSI: "rsi", RDI: "rdi",
	OrigRax: "origrax", RIP: "rip", CS: "cs", RFLAGS: "rflags", RSP: "rsp",
	SS: "ss", FSBase: "fsbase", GSBase: "gsbase",
	DS: "ds", ES: "es", FS: "fs", GS: "gs",
}

// String returns the canonical upper-case register name.
func (r Register) String() string {
	if int(r) >= len(registerNames) {
		return fmt.Sprintf("reg%d", uint8(r))
	}
	return strings.ToUpper(registerNames[r])
}

// ParseRegister resolves a register name case-insensitively. It is used by
// the REPL's "register get"/"register set" commands (spec.md §6).
func ParseRegister(name string) (Register, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for i, n := range registerNames {
		if n == lower {
			return Register(i), true
		}
	}
	return 0, false
}

// The x86-64 SysV ABI DWARF register numbers for the subset of registers
// that participate in call-frame information. ORIGRAX has no ABI number at
// all. RIP is conventionally addressed as the "return address" pseudo
// register rather than a numbered one. RFLAGS, FSBASE and GSBASE are
// assigned numbers by the ABI but are never consulted by this debugger (no
// call-frame unwinding or flags-based logic is in scope), so they are
// treated as unmapped here too.
const (
	dwarfCS = 51
	dwarfSS = 52
	dwarfDS = 53
	dwarfES = 50
	dwarfFS = 54
	dwarfGS = 55
)

var dwarfRegisterNumbers = map[Register]int{
	R15: regnum.AMD64_R15,
	R14: regnum.AMD64_R14,
	R13: regnum.AMD64_R13,
	R12: regnum.AMD64_R12,
	RBP: regnum.AMD64_Rbp,
	RBX: regnum.AMD64_Rbx,
	R11: regnum.AMD64_R11,
	R10: regnum.AMD64_R10,
	R9:  regnum.AMD64_R9,
	R8:  regnum.AMD64_R8,
	RAX: regnum.AMD64_Rax,
	RCX: regnum.AMD64_Rcx,
	RDX: regnum.AMD64_Rdx,
	RSI: regnum.AMD64_Rsi,
	RDI: regnum.AMD64_Rdi,
	RSP: regnum.AMD64_Rsp,
	CS:  dwarfCS,
	SS:  dwarfSS,
	DS:  dwarfDS,
	ES:  dwarfES,
	FS:  dwarfFS,
	GS:  dwarfGS,
}

// DwarfNumber returns the DWARF register number for r, and false if this
// register has none (ORIGRAX, RIP, RFLAGS, FSBASE, GSBASE).
func DwarfNumber(r Register) (int, bool) {
	n, ok := dwarfRegisterNumbers[r]
	return n, ok
}

// asWords reinterprets a *unix.PtraceRegs as a flat array of uint64 in
// struct-declaration order, which on linux/amd64 matches the Register
// enum above field-for-field.
func asWords(regs *unix.PtraceRegs) *[numRegisters]uint64 {
	return (*[numRegisters]uint64)(unsafe.Pointer(regs))
}

// Get reads r out of a snapshot of the kernel's register struct.
func (r Register) Get(regs *unix.PtraceRegs) uint64 {
	return asWords(regs)[r]
}

// Set writes r into a snapshot of the kernel's register struct.
func (r Register) Set(regs *unix.PtraceRegs, v uint64) {
	asWords(regs)[r] = v
}

// Dump writes every register's name and value to w, in enum order. Used by
// the REPL's bare "register" command (spec.md §6).
func Dump(w io.Writer, regs *unix.PtraceRegs) {
	for i := 0; i < NumRegisters; i++ {
		r := Register(i)
		fmt.Fprintf(w, "%-8s 0x%016x = %d\n", r, r.Get(regs), r.Get(regs))
	}
}
