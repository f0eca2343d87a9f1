// Package expr provides the expression graphs that model right-hand sides
// are built from.
//
// A graph is a DAG of [Node] values over constants, state references, the
// simulation time and the external pacing input. Graphs are built once,
// validated, and handed to the compiler; they are never mutated afterwards.
package expr

import (
	"fmt"
	"math"
	"strings"
)

// Kind discriminates the node variants.
type Kind int

const (
	KindConst Kind = iota
	KindState
	KindTime
	KindInput
	KindUnary
	KindBinary
)

// UnaryOp enumerates the supported elementary functions.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpExp
	OpLog
	OpSqrt
	OpSin
	OpCos
	OpAbs
)

// BinaryOp enumerates the supported arithmetic operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpPow
)

// Node is one vertex of an expression graph. Nodes may be shared between
// graphs that index the same state vector.
type Node struct {
	Kind  Kind
	Value float64 // KindConst
	Index int     // KindState
	Un    UnaryOp
	Bin   BinaryOp
	X, Y  *Node // operands (X only for unary)
}

func Const(v float64) *Node { return &Node{Kind: KindConst, Value: v} }
func State(i int) *Node     { return &Node{Kind: KindState, Index: i} }
func Time() *Node           { return &Node{Kind: KindTime} }
func Input() *Node          { return &Node{Kind: KindInput} }

func Add(x, y *Node) *Node { return &Node{Kind: KindBinary, Bin: OpAdd, X: x, Y: y} }
func Sub(x, y *Node) *Node { return &Node{Kind: KindBinary, Bin: OpSub, X: x, Y: y} }
func Mul(x, y *Node) *Node { return &Node{Kind: KindBinary, Bin: OpMul, X: x, Y: y} }
func Div(x, y *Node) *Node { return &Node{Kind: KindBinary, Bin: OpDiv, X: x, Y: y} }
func Pow(x, y *Node) *Node { return &Node{Kind: KindBinary, Bin: OpPow, X: x, Y: y} }

func Neg(x *Node) *Node  { return &Node{Kind: KindUnary, Un: OpNeg, X: x} }
func Exp(x *Node) *Node  { return &Node{Kind: KindUnary, Un: OpExp, X: x} }
func Log(x *Node) *Node  { return &Node{Kind: KindUnary, Un: OpLog, X: x} }
func Sqrt(x *Node) *Node { return &Node{Kind: KindUnary, Un: OpSqrt, X: x} }
func Sin(x *Node) *Node  { return &Node{Kind: KindUnary, Un: OpSin, X: x} }
func Cos(x *Node) *Node  { return &Node{Kind: KindUnary, Un: OpCos, X: x} }
func Abs(x *Node) *Node  { return &Node{Kind: KindUnary, Un: OpAbs, X: x} }

// Validate walks the graph and rejects cycles, state references outside
// [0, nStates) and malformed nodes. It must pass before compilation.
func Validate(n *Node, nStates int) error {
	return validate(n, nStates, make(map[*Node]int))
}

// Node colors during the cycle-detecting walk.
const (
	visiting = 1
	done     = 2
)

func validate(n *Node, nStates int, seen map[*Node]int) error {
	if n == nil {
		return fmt.Errorf("expr: nil node")
	}
	switch seen[n] {
	case done:
		return nil
	case visiting:
		return fmt.Errorf("expr: graph contains a cycle")
	}
	seen[n] = visiting

	switch n.Kind {
	case KindConst, KindTime, KindInput:
		// leaves, nothing to check
	case KindState:
		if n.Index < 0 || n.Index >= nStates {
			return fmt.Errorf("expr: state reference %d out of range [0,%d)", n.Index, nStates)
		}
	case KindUnary:
		if n.Un < OpNeg || n.Un > OpAbs {
			return fmt.Errorf("expr: unsupported unary op %d", n.Un)
		}
		if err := validate(n.X, nStates, seen); err != nil {
			return err
		}
	case KindBinary:
		if n.Bin < OpAdd || n.Bin > OpPow {
			return fmt.Errorf("expr: unsupported binary op %d", n.Bin)
		}
		if err := validate(n.X, nStates, seen); err != nil {
			return err
		}
		if err := validate(n.Y, nStates, seen); err != nil {
			return err
		}
	default:
		return fmt.Errorf("expr: unknown node kind %d", n.Kind)
	}

	seen[n] = done
	return nil
}

// Eval computes the graph value by tree walking. The compiler produces a
// faster flat program; Eval is the reference semantics the compiler must
// reproduce, and is what the tests compare against.
func (n *Node) Eval(state []float64, t, input float64) float64 {
	switch n.Kind {
	case KindConst:
		return n.Value
	case KindState:
		return state[n.Index]
	case KindTime:
		return t
	case KindInput:
		return input
	case KindUnary:
		x := n.X.Eval(state, t, input)
		switch n.Un {
		case OpNeg:
			return -x
		case OpExp:
			return math.Exp(x)
		case OpLog:
			return math.Log(x)
		case OpSqrt:
			return math.Sqrt(x)
		case OpSin:
			return math.Sin(x)
		case OpCos:
			return math.Cos(x)
		case OpAbs:
			return math.Abs(x)
		}
	case KindBinary:
		x := n.X.Eval(state, t, input)
		y := n.Y.Eval(state, t, input)
		switch n.Bin {
		case OpAdd:
			return x + y
		case OpSub:
			return x - y
		case OpMul:
			return x * y
		case OpDiv:
			return x / y
		case OpPow:
			return math.Pow(x, y)
		}
	}
	return math.NaN()
}

func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	switch n.Kind {
	case KindConst:
		fmt.Fprintf(b, "%g", n.Value)
	case KindState:
		fmt.Fprintf(b, "y[%d]", n.Index)
	case KindTime:
		b.WriteString("t")
	case KindInput:
		b.WriteString("pace")
	case KindUnary:
		names := [...]string{"-", "exp", "log", "sqrt", "sin", "cos", "abs"}
		b.WriteString(names[n.Un])
		b.WriteString("(")
		n.X.write(b)
		b.WriteString(")")
	case KindBinary:
		ops := [...]string{" + ", " - ", " * ", " / ", " ^ "}
		b.WriteString("(")
		n.X.write(b)
		b.WriteString(ops[n.Bin])
		n.Y.write(b)
		b.WriteString(")")
	}
}
