package vm

import (
	"errors"
	"fmt"
)

type word uint16

type cpu_flag uint16

// general purpose registers
const (
	R0 = 0b000
	R1 = 0b001
	R2 = 0b010
	R3 = 0b011
	R4 = 0b100
	R5 = 0b101
	R6 = 0b110
	R7 = 0b111
)

// flags
const (
	FLAG_POS cpu_flag = 0b001
	FLAG_ZRO          = 0b010
	FLAG_NEG          = 0b100
)

// memory mapped register addresses
const (
	KBSR = MemoryMappedRegistersStart          /* keyboard status register */
	KBDR = MemoryMappedRegistersStart + 0x0002 /* keyboard data register */
)

// opcodes
const (
	OP_BR word = iota
	OP_ADD
	OP_LD
	OP_ST
	OP_JSR
	OP_AND
	OP_LDR
	OP_STR
	OP_RTI
	OP_NOT
	OP_LDI
	OP_STI
	OP_JMP
	OP_RES
	OP_LEA
	OP_TRAP
)

// ErrFatalOpcode is returned when the decoder encounters RTI or RES,
// neither of which has a defined meaning in this user-mode-only core.
var ErrFatalOpcode = errors.New("lc3vm: fatal opcode (RTI or RES)")

type cpu struct {
	running           bool
	memory            *memory
	internalRegisters struct {
		pc   word
		cond cpu_flag
	}
	generalPurposeRegisters [8]word
	io                      io
}

// newCpu wires the cpu to the memory the caller owns. The cpu never
// takes its own copy of memory: VM and cpu must observe the same
// cells, or a loaded image becomes invisible to the fetch-execute
// loop.
func newCpu(mem *memory) cpu {
	c := cpu{
		running: false,
		memory:  mem,
		io:      newIO(),
	}
	c.internalRegisters.pc = UserSpaceStart
	c.internalRegisters.cond = FLAG_ZRO
	return c
}

// run executes the fetch-execute loop until HALT clears the running
// flag or a fatal opcode is encountered.
func (cpu *cpu) run() error {
	cpu.running = true

	for cpu.running {
		instruction := cpu.memRead(cpu.internalRegisters.pc)
		cpu.internalRegisters.pc++

		if err := cpu.decodeAndExecuteInstruction(instruction); err != nil {
			return err
		}
	}
	return nil
}

func (cpu *cpu) stop() {
	cpu.running = false
}

func (cpu *cpu) decodeAndExecuteInstruction(instruction word) error {
	op := instruction >> 12

	switch op {
	case OP_ADD:
		dr := (instruction >> 9) & 0b111
		sr1 := (instruction >> 6) & 0b111
		imm_flag := (instruction >> 5) & 0b1

		if imm_flag == 1 {
			imm5 := instruction & 0x1F
			cpu.generalPurposeRegisters[dr] = cpu.generalPurposeRegisters[sr1] + sext(imm5, 5)
		} else {
			sr2 := instruction & 0b111
			cpu.generalPurposeRegisters[dr] = cpu.generalPurposeRegisters[sr1] + cpu.generalPurposeRegisters[sr2]
		}

		cpu.updateFlags(dr)

	case OP_AND:
		dr := (instruction >> 9) & 0b111
		sr1 := (instruction >> 6) & 0b111
		imm_flag := (instruction >> 5) & 0b1

		if imm_flag == 1 {
			imm5 := instruction & 0b11111
			cpu.generalPurposeRegisters[dr] = cpu.generalPurposeRegisters[sr1] & sext(imm5, 5)
		} else {
			sr2 := instruction & 0b111
			cpu.generalPurposeRegisters[dr] = cpu.generalPurposeRegisters[sr1] & cpu.generalPurposeRegisters[sr2]
		}

		cpu.updateFlags(dr)

	case OP_NOT:
		dr := (instruction >> 9) & 0b111
		sr := (instruction >> 6) & 0b111

		cpu.generalPurposeRegisters[dr] = ^cpu.generalPurposeRegisters[sr]
		cpu.updateFlags(dr)

	case OP_BR:
		nzp := (instruction >> 9) & 0b111
		pcoffset9 := instruction & 0x1FF
		cond := word(cpu.internalRegisters.cond)

		if (nzp & cond) != 0 {
			cpu.internalRegisters.pc += sext(pcoffset9, 9)
		}

	case OP_JMP:
		br := (instruction >> 6) & 0b111
		cpu.internalRegisters.pc = cpu.generalPurposeRegisters[br]

	case OP_JSR:
		cpu.generalPurposeRegisters[R7] = cpu.internalRegisters.pc

		bit11 := (instruction >> 11) & 0b1
		if bit11 == 1 {
			pcoffset11 := instruction & 0x7FF
			cpu.internalRegisters.pc += sext(pcoffset11, 11)
		} else {
			br := (instruction >> 6) & 0b111
			cpu.internalRegisters.pc = cpu.generalPurposeRegisters[br]
		}

	case OP_LD:
		dr := (instruction >> 9) & 0b111
		pcoffset9 := instruction & 0x1FF

		cpu.generalPurposeRegisters[dr] = cpu.memRead(cpu.internalRegisters.pc + sext(pcoffset9, 9))
		cpu.updateFlags(dr)

	case OP_LDI:
		dr := (instruction >> 9) & 0b111
		pcoffset9 := instruction & 0x1FF

		cpu.generalPurposeRegisters[dr] = cpu.memRead(cpu.memRead(cpu.internalRegisters.pc + sext(pcoffset9, 9)))
		cpu.updateFlags(dr)

	case OP_LDR:
		dr := (instruction >> 9) & 0b111
		br := (instruction >> 6) & 0b111
		offset6 := instruction & 0x3F

		cpu.generalPurposeRegisters[dr] = cpu.memRead(cpu.generalPurposeRegisters[br] + sext(offset6, 6))
		cpu.updateFlags(dr)

	case OP_LEA:
		dr := (instruction >> 9) & 0b111
		pcoffset9 := instruction & 0x1FF

		cpu.generalPurposeRegisters[dr] = cpu.internalRegisters.pc + sext(pcoffset9, 9)

	case OP_ST:
		sr := (instruction >> 9) & 0b111
		pcoffset9 := instruction & 0x1FF

		addr := cpu.internalRegisters.pc + sext(pcoffset9, 9)
		cpu.memWrite(addr, cpu.generalPurposeRegisters[sr])

	case OP_STI:
		sr := (instruction >> 9) & 0b111
		pcoffset9 := instruction & 0x1FF

		addr := cpu.memRead(cpu.internalRegisters.pc + sext(pcoffset9, 9))
		cpu.memWrite(addr, cpu.generalPurposeRegisters[sr])

	case OP_STR:
		sr := (instruction >> 9) & 0b111
		br := (instruction >> 6) & 0b111
		offset6 := instruction & 0x3F

		addr := cpu.generalPurposeRegisters[br] + sext(offset6, 6)
		cpu.memWrite(addr, cpu.generalPurposeRegisters[sr])

	case OP_TRAP:
		cpu.execTrap(instruction & 0xFF)

	case OP_RTI, OP_RES:
		return fmt.Errorf("%w: 0x%04x", ErrFatalOpcode, instruction)
	}

	return nil
}

func (cpu *cpu) execTrap(vector word) {
	switch vector {
	case TRAP_GETC:
		cpu.generalPurposeRegisters[R0] = word(cpu.io.ReadByte())
		cpu.updateFlags(R0)

	case TRAP_OUT:
		cpu.io.WriteByte(byte(cpu.generalPurposeRegisters[R0]))
		cpu.io.Flush()

	case TRAP_PUTS:
		addr := cpu.generalPurposeRegisters[R0]
		for c := cpu.memRead(addr); c != 0; c = cpu.memRead(addr) {
			cpu.io.WriteByte(byte(c))
			addr++
		}
		cpu.io.Flush()

	case TRAP_IN:
		cpu.io.WriteString("Enter a character: ")
		cpu.io.Flush()

		c := cpu.io.ReadByte()
		cpu.io.WriteByte(c)
		cpu.io.Flush()

		cpu.generalPurposeRegisters[R0] = word(c)
		cpu.updateFlags(R0)

	case TRAP_PUTSP:
		addr := cpu.generalPurposeRegisters[R0]
		for w := cpu.memRead(addr); w != 0; w = cpu.memRead(addr) {
			cpu.io.WriteByte(byte(w & 0xFF))
			if hi := byte(w >> 8); hi != 0 {
				cpu.io.WriteByte(hi)
			}
			addr++
		}
		cpu.io.Flush()

	case TRAP_HALT:
		cpu.io.WriteString("HATL\n")
		cpu.io.Flush()
		cpu.stop()

	default:
		// Unknown trap vectors are a no-op with no host-visible effect.
	}
}

func (cpu *cpu) memWrite(addr, value word) {
	cpu.memory.write(addr, value)
}

func (cpu *cpu) memRead(addr word) word {
	return cpu.memory.read(addr, &cpu.io)
}

func (cpu *cpu) updateFlags(r word) {
	if cpu.generalPurposeRegisters[r] == 0 {
		cpu.internalRegisters.cond = FLAG_ZRO
	} else if cpu.generalPurposeRegisters[r]>>15 != 0 {
		cpu.internalRegisters.cond = FLAG_NEG
	} else {
		cpu.internalRegisters.cond = FLAG_POS
	}
}

// sext sign-extends the low bitCount bits of x to a full 16-bit word.
func sext(x, bitCount word) word {
	if ((x >> (bitCount - 1)) & 0b1) != 0 {
		x |= 0xFFFF << bitCount
	}
	return x
}
