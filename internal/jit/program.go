package jit

import (
	"math"
	"sync"
)

// Tape opcodes. Leaf loads read from the inputs, everything else reads
// previously written registers.
type opcode uint8

const (
	opConst opcode = iota
	opState
	opTime
	opInput
	opNeg
	opExp
	opLog
	opSqrt
	opSin
	opCos
	opAbs
	opAdd
	opSub
	opMul
	opDiv
	opPow
	opOut
)

// instr writes one register. a and b index registers, except for opConst
// (a indexes the constant pool), opState (a is the state index) and opOut
// (a is the source register, b the output slot).
type instr struct {
	op   opcode
	a, b int32
}

// tapeProgram is the compiled form produced by the tape backend: a flat
// instruction sequence over a register file, shared constants, no
// allocation per call beyond a pooled scratch slice.
type tapeProgram struct {
	code   []instr
	consts []float64
	nRegs  int
	pool   sync.Pool
}

func newTapeProgram(code []instr, consts []float64, nRegs int) *tapeProgram {
	p := &tapeProgram{code: code, consts: consts, nRegs: nRegs}
	p.pool.New = func() any {
		s := make([]float64, nRegs)
		return &s
	}
	return p
}

func (p *tapeProgram) Run(state []float64, t, input float64, out []float64) {
	regsp := p.pool.Get().(*[]float64)
	regs := *regsp

	for i, in := range p.code {
		var v float64
		switch in.op {
		case opConst:
			v = p.consts[in.a]
		case opState:
			v = state[in.a]
		case opTime:
			v = t
		case opInput:
			v = input
		case opNeg:
			v = -regs[in.a]
		case opExp:
			v = math.Exp(regs[in.a])
		case opLog:
			v = math.Log(regs[in.a])
		case opSqrt:
			v = math.Sqrt(regs[in.a])
		case opSin:
			v = math.Sin(regs[in.a])
		case opCos:
			v = math.Cos(regs[in.a])
		case opAbs:
			v = math.Abs(regs[in.a])
		case opAdd:
			v = regs[in.a] + regs[in.b]
		case opSub:
			v = regs[in.a] - regs[in.b]
		case opMul:
			v = regs[in.a] * regs[in.b]
		case opDiv:
			v = regs[in.a] / regs[in.b]
		case opPow:
			v = math.Pow(regs[in.a], regs[in.b])
		case opOut:
			out[in.b] = regs[in.a]
			continue
		}
		regs[i] = v
	}

	p.pool.Put(regsp)
}
