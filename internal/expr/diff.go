package expr

// Diff returns the partial derivative of n with respect to state variable i
// as a new graph. Time and pacing input are treated as independent of the
// state, so their derivative is zero. The result is lightly simplified
// (zero/one folding) to keep Jacobian graphs small.
func Diff(n *Node, i int) *Node {
	switch n.Kind {
	case KindConst, KindTime, KindInput:
		return Const(0)
	case KindState:
		if n.Index == i {
			return Const(1)
		}
		return Const(0)
	case KindUnary:
		dx := Diff(n.X, i)
		switch n.Un {
		case OpNeg:
			return simpNeg(dx)
		case OpExp:
			return simpMul(n, dx) // exp(u)' = exp(u) u'
		case OpLog:
			return simpDiv(dx, n.X)
		case OpSqrt:
			return simpDiv(dx, simpMul(Const(2), n))
		case OpSin:
			return simpMul(Cos(n.X), dx)
		case OpCos:
			return simpNeg(simpMul(Sin(n.X), dx))
		case OpAbs:
			// d|u|/dx = sign(u) u', expressed as u/|u| * u'
			return simpMul(simpDiv(n.X, n), dx)
		}
	case KindBinary:
		dx := Diff(n.X, i)
		dy := Diff(n.Y, i)
		switch n.Bin {
		case OpAdd:
			return simpAdd(dx, dy)
		case OpSub:
			return simpSub(dx, dy)
		case OpMul:
			return simpAdd(simpMul(dx, n.Y), simpMul(n.X, dy))
		case OpDiv:
			// (u/v)' = (u'v - uv') / v^2
			num := simpSub(simpMul(dx, n.Y), simpMul(n.X, dy))
			return simpDiv(num, simpMul(n.Y, n.Y))
		case OpPow:
			if isConst(n.Y) {
				// (u^c)' = c u^(c-1) u'
				c := n.Y.Value
				return simpMul(simpMul(Const(c), Pow(n.X, Const(c-1))), dx)
			}
			// General case: u^v = exp(v log u).
			// (u^v)' = u^v (v' log u + v u'/u)
			inner := simpAdd(simpMul(dy, Log(n.X)), simpMul(n.Y, simpDiv(dx, n.X)))
			return simpMul(n, inner)
		}
	}
	return Const(0)
}

func isConst(n *Node) bool { return n.Kind == KindConst }

func isZero(n *Node) bool { return n.Kind == KindConst && n.Value == 0 }

func isOne(n *Node) bool { return n.Kind == KindConst && n.Value == 1 }

func simpAdd(x, y *Node) *Node {
	switch {
	case isZero(x):
		return y
	case isZero(y):
		return x
	case isConst(x) && isConst(y):
		return Const(x.Value + y.Value)
	}
	return Add(x, y)
}

func simpSub(x, y *Node) *Node {
	switch {
	case isZero(y):
		return x
	case isZero(x):
		return simpNeg(y)
	case isConst(x) && isConst(y):
		return Const(x.Value - y.Value)
	}
	return Sub(x, y)
}

func simpMul(x, y *Node) *Node {
	switch {
	case isZero(x) || isZero(y):
		return Const(0)
	case isOne(x):
		return y
	case isOne(y):
		return x
	case isConst(x) && isConst(y):
		return Const(x.Value * y.Value)
	}
	return Mul(x, y)
}

func simpDiv(x, y *Node) *Node {
	switch {
	case isZero(x):
		return Const(0)
	case isOne(y):
		return x
	case isConst(x) && isConst(y) && y.Value != 0:
		return Const(x.Value / y.Value)
	}
	return Div(x, y)
}

func simpNeg(x *Node) *Node {
	if isConst(x) {
		return Const(-x.Value)
	}
	return Neg(x)
}
