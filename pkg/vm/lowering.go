package vm

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hackforge/n2t/pkg/asm"
)

// ----------------------------------------------------------------------------
// Segment addressing

// segmentBase names the pointer-register that a "real" memory segment is addressed
// through. 'constant' and 'static' are handled separately since they don't live
// behind one of the four indirection registers.
var segmentBase = map[SegmentType]string{
	Local:    "LCL",
	Argument: "ARG",
	This:     "THIS",
	That:     "THAT",
}

// fixedBase returns the compile-time constant address for segments whose offset
// is resolved without any runtime indirection (temp, pointer).
var fixedBase = map[SegmentType]uint16{
	Temp:    5, // R5..R12
	Pointer: 3, // THIS=3, THAT=4
}

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a 'vm.Program' (one Module per translation unit/file) and produces
// its 'asm.Program' counterpart, implementing the stack machine's calling convention.
//
// Each file is lowered with its own label/return counters (mirroring how the reference
// VM translator resets its CodeWriter per file) so two files calling the same function,
// or looping with the same label text, never collide once concatenated into one program.
type Lowerer struct{ program Program }

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program to be not nil.
func NewLowerer(p Program) Lowerer { return Lowerer{program: p} }

// Bootstrap produces the instructions that must be emitted once, before any file's
// code, when translating a directory of VM files: it sets SP to 256 then performs
// a regular 'call Sys.init 0'. It reuses the exact call-lowering logic every other
// 'call' goes through, just scoped under its own classname for label hygiene.
func Bootstrap() []asm.Instruction {
	program := []asm.Instruction{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	fl := &fileLowerer{classname: "Bootstrap"}
	call, _ := fl.lowerFuncCall(FuncCallOp{Name: "Sys.init", NArgs: 0})
	return append(program, call...)
}

// Triggers the lowering process. Files are visited in lexical order (not map iteration
// order, which Go randomizes) so that repeated runs over the same input are reproducible.
func (l *Lowerer) Lowerer() (asm.Program, error) {
	if len(l.program) == 0 {
		return nil, fmt.Errorf("the given 'program' is empty")
	}

	names := make([]string, 0, len(l.program))
	for name := range l.program {
		names = append(names, name)
	}
	sort.Strings(names)

	out := asm.Program{}
	for _, name := range names {
		classname := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		fl := &fileLowerer{classname: classname}

		for _, op := range l.program[name] {
			instructions, err := fl.lower(op)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out = append(out, instructions...)
		}
	}

	return out, nil
}

// fileLowerer carries the per-file state needed to keep generated labels unique:
// a running index for comparison (eq/gt/lt) result labels and one for call return labels.
type fileLowerer struct {
	classname string
	boolIdx   int
	returnIdx int
}

func (fl *fileLowerer) lower(op Operation) ([]asm.Instruction, error) {
	switch top := op.(type) {
	case MemoryOp:
		return fl.lowerMemoryOp(top)
	case ArithmeticOp:
		return fl.lowerArithmeticOp(top)
	case LabelDecl:
		return fl.lowerLabelDecl(top)
	case GotoOp:
		return fl.lowerGotoOp(top)
	case FuncDecl:
		return fl.lowerFuncDecl(top)
	case FuncCallOp:
		return fl.lowerFuncCall(top)
	case ReturnOp:
		return fl.lowerReturn(top)
	default:
		return nil, fmt.Errorf("unrecognized operation '%T'", op)
	}
}

// ----------------------------------------------------------------------------
// Memory Op

func (fl *fileLowerer) lowerMemoryOp(op MemoryOp) ([]asm.Instruction, error) {
	if op.Operation == Push {
		return fl.lowerPush(op.Segment, op.Offset)
	}
	if op.Operation == Pop {
		return fl.lowerPop(op.Segment, op.Offset)
	}
	return nil, fmt.Errorf("unrecognized OperationType '%s'", op.Operation)
}

// pushD appends the 5 instructions that push the D register onto the stack
// and advance the Stack Pointer, shared by every push variant below.
func pushD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

func (fl *fileLowerer) lowerPush(segment SegmentType, offset uint16) ([]asm.Instruction, error) {
	switch segment {
	case Constant:
		program := []asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}
		return append(program, pushD()...), nil

	case Static:
		program := []asm.Instruction{
			asm.AInstruction{Location: fmt.Sprintf("%s.%d", fl.classname, offset)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}
		return append(program, pushD()...), nil

	case Temp, Pointer:
		base, err := boundedOffset(segment, offset)
		if err != nil {
			return nil, err
		}
		program := []asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(base)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}
		return append(program, pushD()...), nil

	case Local, Argument, This, That:
		program := []asm.Instruction{
			asm.AInstruction{Location: segmentBase[segment]},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(offset)},
			asm.CInstruction{Dest: "A", Comp: "D+A"},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}
		return append(program, pushD()...), nil

	default:
		return nil, fmt.Errorf("unrecognized segment '%s' for push", segment)
	}
}

func (fl *fileLowerer) lowerPop(segment SegmentType, offset uint16) ([]asm.Instruction, error) {
	switch segment {
	case Static:
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M-1"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprintf("%s.%d", fl.classname, offset)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil

	case Temp, Pointer:
		base, err := boundedOffset(segment, offset)
		if err != nil {
			return nil, err
		}
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M-1"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(base)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil

	case Local, Argument, This, That:
		// The target address is only known at runtime (it depends on the segment's
		// base pointer), so it's computed ahead of the pop and stashed in R13 -
		// popping first would clobber D before the address is available.
		return []asm.Instruction{
			asm.AInstruction{Location: segmentBase[segment]},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(offset)},
			asm.CInstruction{Dest: "D", Comp: "D+A"},
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "M", Comp: "D"},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M-1"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil

	default:
		return nil, fmt.Errorf("unrecognized segment '%s' for pop", segment)
	}
}

// boundedOffset resolves temp/pointer offsets to their fixed RAM address, rejecting
// offsets outside of the segment's real capacity (temp: 8 slots, pointer: 2 slots).
func boundedOffset(segment SegmentType, offset uint16) (uint16, error) {
	if segment == Temp && offset > 7 {
		return 0, fmt.Errorf("invalid 'temp' offset, got %d", offset)
	}
	if segment == Pointer && offset > 1 {
		return 0, fmt.Errorf("invalid 'pointer' offset, got %d", offset)
	}
	return fixedBase[segment] + offset, nil
}

// ----------------------------------------------------------------------------
// Arithmetic Op

func (fl *fileLowerer) lowerArithmeticOp(op ArithmeticOp) ([]asm.Instruction, error) {
	switch op.Operation {
	case Neg:
		return unaryOp("-M"), nil
	case Not:
		return unaryOp("!M"), nil
	case Add:
		return fl.binaryOp("D+M")
	case Sub:
		return fl.binaryOp("M-D")
	case And:
		return fl.binaryOp("D&M")
	case Or:
		return fl.binaryOp("D|M")
	case Eq:
		return fl.comparisonOp("JEQ")
	case Gt:
		return fl.comparisonOp("JGT")
	case Lt:
		return fl.comparisonOp("JLT")
	default:
		return nil, fmt.Errorf("unrecognized ArithOpType '%s'", op.Operation)
	}
}

func unaryOp(comp string) []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: comp},
	}
}

// binaryPrelude pops the top of the stack into D and points A at the new top
// (the second operand), shared by every non-comparison and comparison binary op.
func binaryPrelude() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M-1"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
	}
}

func (fl *fileLowerer) binaryOp(comp string) ([]asm.Instruction, error) {
	program := binaryPrelude()
	program = append(program, asm.CInstruction{Dest: "M", Comp: comp})
	return program, nil
}

// comparisonOp lowers eq/gt/lt: computes (second - top), defaults the result to
// false and flips to true only via the conditional jump, so only one branch is taken.
func (fl *fileLowerer) comparisonOp(jump string) ([]asm.Instruction, error) {
	trueLabel := fmt.Sprintf("%s$BOOL_TRUE.%d", fl.classname, fl.boolIdx)
	endLabel := fmt.Sprintf("%s$BOOL_END.%d", fl.classname, fl.boolIdx)
	fl.boolIdx++

	program := binaryPrelude()
	program = append(program, asm.CInstruction{Dest: "M", Comp: "M-D"})
	program = append(program,
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "0"},
		asm.AInstruction{Location: trueLabel},
		asm.CInstruction{Comp: "D", Jump: jump},
		asm.AInstruction{Location: endLabel},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: trueLabel},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "-1"},
		asm.LabelDecl{Name: endLabel},
	)
	return program, nil
}

// ----------------------------------------------------------------------------
// Label & Goto Op

// Labels are scoped to the file (class) they're declared in: 'label'/'goto'/'if-goto'
// names are qualified as "<file>$<label>". The enclosing function is not part of the
// symbol, so the same label text used in two functions of one file maps to one symbol.
func (fl *fileLowerer) lowerLabelDecl(op LabelDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower empty label declaration")
	}
	return []asm.Instruction{asm.LabelDecl{Name: fmt.Sprintf("%s$%s", fl.classname, op.Name)}}, nil
}

func (fl *fileLowerer) lowerGotoOp(op GotoOp) ([]asm.Instruction, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to lower goto with empty target label")
	}
	target := fmt.Sprintf("%s$%s", fl.classname, op.Label)

	if op.Jump == Unconditional {
		return []asm.Instruction{
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	}
	if op.Jump == Conditional {
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M-1"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "D", Jump: "JNE"},
		}, nil
	}
	return nil, fmt.Errorf("unrecognized JumpType '%s'", op.Jump)
}

// ----------------------------------------------------------------------------
// Function Op

// Function names are global (unlike label/goto), so 'Name' is used verbatim as
// the jump target; only the callee-local "nLocal" zero-initialization is file-scoped.
func (fl *fileLowerer) lowerFuncDecl(op FuncDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower function declaration with empty name")
	}

	program := []asm.Instruction{asm.LabelDecl{Name: op.Name}}
	zero, err := fl.lowerPush(Constant, 0)
	if err != nil {
		return nil, err
	}
	for i := uint16(0); i < op.NLocal; i++ {
		program = append(program, zero...)
	}
	return program, nil
}

func (fl *fileLowerer) lowerFuncCall(op FuncCallOp) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower function call with empty name")
	}

	returnLabel := fmt.Sprintf("%s$ret.%d", fl.classname, fl.returnIdx)
	fl.returnIdx++

	program := []asm.Instruction{
		asm.AInstruction{Location: returnLabel},
		asm.CInstruction{Dest: "D", Comp: "A"},
	}
	program = append(program, pushD()...)

	for _, reg := range []string{"LCL", "ARG", "THIS", "THAT"} {
		program = append(program,
			asm.AInstruction{Location: reg},
			asm.CInstruction{Dest: "D", Comp: "M"},
		)
		program = append(program, pushD()...)
	}

	program = append(program,
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: fmt.Sprint(5 + op.NArgs)},
		asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: op.Name},
		asm.CInstruction{Comp: "0", Jump: "JMP"},

		asm.LabelDecl{Name: returnLabel},
	)

	return program, nil
}

func (fl *fileLowerer) lowerReturn(op ReturnOp) ([]asm.Instruction, error) {
	program := []asm.Instruction{
		// endFrame (R13) = LCL
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		// retAddr (R14) = *(endFrame - 5), saved before *ARG is overwritten
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "5"},
		asm.CInstruction{Dest: "A", Comp: "D-A"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		// *ARG = pop()
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M-1"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		// SP = ARG + 1
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	for _, reg := range []string{"THAT", "THIS", "ARG", "LCL"} {
		program = append(program,
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "M", Comp: "M-1"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: reg},
			asm.CInstruction{Dest: "M", Comp: "D"},
		)
	}

	program = append(program,
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)

	return program, nil
}
