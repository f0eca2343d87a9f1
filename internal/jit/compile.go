package jit

import (
	"fmt"

	"github.com/epsimlab/epsim/internal/expr"
)

// CompileError reports a rejected model: bad IR, or no usable backend. It is
// fatal and non-retryable for the process when the backend is missing.
type CompileError struct {
	Reason string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jit: %s: %v", e.Reason, e.Err)
	}
	return "jit: " + e.Reason
}

func (e *CompileError) Unwrap() error { return e.Err }

// Kernel is a compiled model function: given a state vector of exactly
// NStates values, a time and the pacing input, it produces NOutputs values.
// Kernels are immutable and safe to share between concurrent runs.
type Kernel struct {
	prog     Program
	nStates  int
	nOutputs int
	backend  string
}

func (k *Kernel) NStates() int    { return k.nStates }
func (k *Kernel) NOutputs() int   { return k.nOutputs }
func (k *Kernel) Backend() string { return k.backend }

// Eval invokes the compiled code. The arity checks guard the boundary into
// generated code, where a short state vector would be out-of-bounds access.
func (k *Kernel) Eval(state []float64, t, input float64, out []float64) error {
	if len(state) != k.nStates {
		return fmt.Errorf("jit: kernel expects %d states, got %d", k.nStates, len(state))
	}
	if len(out) != k.nOutputs {
		return fmt.Errorf("jit: kernel produces %d outputs, output buffer has %d", k.nOutputs, len(out))
	}
	k.prog.Run(state, t, input, out)
	return nil
}

// Compile validates and lowers a list of expression graphs sharing one
// state-vector indexing. Each graph contributes one output, in order.
func Compile(graphs []*expr.Node, nStates int) (*Kernel, error) {
	if len(graphs) == 0 {
		return nil, &CompileError{Reason: "no graphs to compile"}
	}
	if nStates < 0 {
		return nil, &CompileError{Reason: fmt.Sprintf("invalid state count %d", nStates)}
	}

	for i, g := range graphs {
		if err := expr.Validate(g, nStates); err != nil {
			return nil, &CompileError{Reason: fmt.Sprintf("graph %d rejected", i), Err: err}
		}
	}

	backend := ActiveBackend()
	if backend == nil || !backend.Available() {
		return nil, &CompileError{Reason: "no code-generation backend available on this platform"}
	}

	prog, err := backend.Lower(graphs, nStates)
	if err != nil {
		return nil, &CompileError{Reason: "lowering failed", Err: err}
	}

	return &Kernel{
		prog:     prog,
		nStates:  nStates,
		nOutputs: len(graphs),
		backend:  backend.Name(),
	}, nil
}

// tapeBackend flattens DAGs into a linear instruction tape.
type tapeBackend struct{}

func newTapeBackend() *tapeBackend { return &tapeBackend{} }

func (b *tapeBackend) Name() string    { return "tape" }
func (b *tapeBackend) Available() bool { return true }

// valueKey identifies an instruction by its operation and operands, so
// structurally identical subexpressions share one register even when the
// graphs do not share node pointers.
type valueKey struct {
	op   opcode
	c    float64
	a, b int32
}

type lowerer struct {
	code    []instr
	consts  []float64
	byNode  map[*expr.Node]int32
	byVal   map[valueKey]int32
	cpool   map[float64]int32
	regVals map[int32]float64 // registers holding a known constant
}

func (b *tapeBackend) Lower(graphs []*expr.Node, nStates int) (Program, error) {
	lo := &lowerer{
		byNode:  make(map[*expr.Node]int32),
		byVal:   make(map[valueKey]int32),
		cpool:   make(map[float64]int32),
		regVals: make(map[int32]float64),
	}

	for slot, g := range graphs {
		reg, err := lo.emit(g)
		if err != nil {
			return nil, err
		}
		lo.code = append(lo.code, instr{op: opOut, a: reg, b: int32(slot)})
	}

	return newTapeProgram(lo.code, lo.consts, len(lo.code)), nil
}

func (lo *lowerer) emit(n *expr.Node) (int32, error) {
	if reg, ok := lo.byNode[n]; ok {
		return reg, nil
	}

	var key valueKey
	switch n.Kind {
	case expr.KindConst:
		key = valueKey{op: opConst, c: n.Value}
	case expr.KindState:
		key = valueKey{op: opState, a: int32(n.Index)}
	case expr.KindTime:
		key = valueKey{op: opTime}
	case expr.KindInput:
		key = valueKey{op: opInput}
	case expr.KindUnary:
		a, err := lo.emit(n.X)
		if err != nil {
			return 0, err
		}
		if v, ok := lo.regVals[a]; ok {
			return lo.emitConst((&expr.Node{Kind: expr.KindUnary, Un: n.Un, X: expr.Const(v)}).Eval(nil, 0, 0), n)
		}
		key = valueKey{op: unaryOps[n.Un], a: a}
	case expr.KindBinary:
		a, err := lo.emit(n.X)
		if err != nil {
			return 0, err
		}
		c, err := lo.emit(n.Y)
		if err != nil {
			return 0, err
		}
		if va, ok := lo.regVals[a]; ok {
			if vc, ok := lo.regVals[c]; ok {
				folded := (&expr.Node{Kind: expr.KindBinary, Bin: n.Bin, X: expr.Const(va), Y: expr.Const(vc)}).Eval(nil, 0, 0)
				return lo.emitConst(folded, n)
			}
		}
		key = valueKey{op: binaryOps[n.Bin], a: a, b: c}
	default:
		return 0, fmt.Errorf("unknown node kind %d", n.Kind)
	}

	if reg, ok := lo.byVal[key]; ok {
		lo.byNode[n] = reg
		return reg, nil
	}

	in := instr{op: key.op, a: key.a, b: key.b}
	if key.op == opConst {
		ci, ok := lo.cpool[key.c]
		if !ok {
			ci = int32(len(lo.consts))
			lo.consts = append(lo.consts, key.c)
			lo.cpool[key.c] = ci
		}
		in.a = ci
	}

	reg := int32(len(lo.code))
	lo.code = append(lo.code, in)
	lo.byNode[n] = reg
	lo.byVal[key] = reg
	if key.op == opConst {
		lo.regVals[reg] = key.c
	}
	return reg, nil
}

// emitConst emits (or reuses) a constant-load for a folded subexpression.
func (lo *lowerer) emitConst(v float64, n *expr.Node) (int32, error) {
	key := valueKey{op: opConst, c: v}
	if reg, ok := lo.byVal[key]; ok {
		lo.byNode[n] = reg
		return reg, nil
	}
	ci, ok := lo.cpool[v]
	if !ok {
		ci = int32(len(lo.consts))
		lo.consts = append(lo.consts, v)
		lo.cpool[v] = ci
	}
	reg := int32(len(lo.code))
	lo.code = append(lo.code, instr{op: opConst, a: ci})
	lo.byNode[n] = reg
	lo.byVal[key] = reg
	lo.regVals[reg] = v
	return reg, nil
}

var unaryOps = [...]opcode{
	expr.OpNeg:  opNeg,
	expr.OpExp:  opExp,
	expr.OpLog:  opLog,
	expr.OpSqrt: opSqrt,
	expr.OpSin:  opSin,
	expr.OpCos:  opCos,
	expr.OpAbs:  opAbs,
}

var binaryOps = [...]opcode{
	expr.OpAdd: opAdd,
	expr.OpSub: opSub,
	expr.OpMul: opMul,
	expr.OpDiv: opDiv,
	expr.OpPow: opPow,
}
