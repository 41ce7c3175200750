package vm

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// SetOpOp is the operator of a compound assignment.
type SetOpOp uint8

const (
	SetOpAdd SetOpOp = iota
	SetOpSub
	SetOpMul
	SetOpDiv
	SetOpMod
	SetOpPow
	SetOpConcat
	SetOpAnd
	SetOpOr
	SetOpXor
	SetOpShl
	SetOpShr
)

var setOpNames = [...]string{
	SetOpAdd: "+=", SetOpSub: "-=", SetOpMul: "*=", SetOpDiv: "/=",
	SetOpMod: "%=", SetOpPow: "**=", SetOpConcat: ".=", SetOpAnd: "&=",
	SetOpOr: "|=", SetOpXor: "^=", SetOpShl: "<<=", SetOpShr: ">>=",
}

func (op SetOpOp) String() string {
	if int(op) < len(setOpNames) {
		return setOpNames[op]
	}
	return "?="
}

// IncDecOp is an increment or decrement operator.
type IncDecOp uint8

const (
	PreInc IncDecOp = iota
	PostInc
	PreDec
	PostDec
)

func (op IncDecOp) isInc() bool { return op == PreInc || op == PostInc }
func (op IncDecOp) isPre() bool { return op == PreInc || op == PreDec }

// ---------------------------------------------------------------------------
// Compound assignment
// ---------------------------------------------------------------------------

// setOpBody computes lhs op rhs.
func (rt *Runtime) setOpBody(op SetOpOp, lhs, rhs Value) (Value, error) {
	lhs, rhs = lhs.Deref(), rhs.Deref()

	if op == SetOpConcat {
		l, err := rt.ToStringValue(lhs)
		if err != nil {
			return Null, err
		}
		r, err := rt.ToStringValue(rhs)
		if err != nil {
			return Null, err
		}
		return FromString(l + r), nil
	}

	if op == SetOpAdd && lhs.IsArray() && rhs.IsArray() {
		return FromArray(arrayUnion(lhs.Array(), rhs.Array())), nil
	}
	if lhs.IsArray() || rhs.IsArray() || lhs.IsObject() || rhs.IsObject() {
		return Null, fmt.Errorf("%w: %s %s %s", ErrUnsupportedOperand, lhs.kind, op, rhs.kind)
	}

	switch op {
	case SetOpAnd, SetOpOr, SetOpXor, SetOpShl, SetOpShr, SetOpMod:
		return intOp(op, toInt64(lhs), toInt64(rhs))
	}

	l, r := toNumber(lhs), toNumber(rhs)
	if l.IsInt() && r.IsInt() {
		return intArith(op, l.Int(), r.Int())
	}
	return floatArith(op, numberAsFloat(l), numberAsFloat(r))
}

func intOp(op SetOpOp, l, r int64) (Value, error) {
	switch op {
	case SetOpAnd:
		return FromInt(l & r), nil
	case SetOpOr:
		return FromInt(l | r), nil
	case SetOpXor:
		return FromInt(l ^ r), nil
	case SetOpShl:
		if r < 0 {
			return Null, fmt.Errorf("%w: bit shift by negative number", ErrUnsupportedOperand)
		}
		if r >= 64 {
			return FromInt(0), nil
		}
		return FromInt(l << uint(r)), nil
	case SetOpShr:
		if r < 0 {
			return Null, fmt.Errorf("%w: bit shift by negative number", ErrUnsupportedOperand)
		}
		if r >= 64 {
			if l < 0 {
				return FromInt(-1), nil
			}
			return FromInt(0), nil
		}
		return FromInt(l >> uint(r)), nil
	case SetOpMod:
		if r == 0 {
			return Null, fmt.Errorf("%w: modulo by zero", ErrDivisionByZero)
		}
		if r == -1 {
			return FromInt(0), nil
		}
		return FromInt(l % r), nil
	}
	return Null, fmt.Errorf("%w: %s on integers", ErrUnsupportedOperand, op)
}

// intArith performs integer arithmetic, overflowing into floats.
func intArith(op SetOpOp, l, r int64) (Value, error) {
	switch op {
	case SetOpAdd:
		s := l + r
		if (l >= 0) == (r >= 0) && (s >= 0) != (l >= 0) {
			return FromDouble(float64(l) + float64(r)), nil
		}
		return FromInt(s), nil
	case SetOpSub:
		d := l - r
		if (l >= 0) != (r >= 0) && (d >= 0) != (l >= 0) {
			return FromDouble(float64(l) - float64(r)), nil
		}
		return FromInt(d), nil
	case SetOpMul:
		hi, lo := bits.Mul64(uint64(absInt(l)), uint64(absInt(r)))
		if hi != 0 || lo > math.MaxInt64 || l == math.MinInt64 || r == math.MinInt64 {
			return FromDouble(float64(l) * float64(r)), nil
		}
		return FromInt(l * r), nil
	case SetOpDiv:
		if r == 0 {
			return Null, fmt.Errorf("%w: division by zero", ErrDivisionByZero)
		}
		if l%r == 0 && !(l == math.MinInt64 && r == -1) {
			return FromInt(l / r), nil
		}
		return FromDouble(float64(l) / float64(r)), nil
	case SetOpPow:
		if r < 0 {
			return FromDouble(math.Pow(float64(l), float64(r))), nil
		}
		if p, ok := powInt(l, r); ok {
			return FromInt(p), nil
		}
		return FromDouble(math.Pow(float64(l), float64(r))), nil
	}
	return Null, fmt.Errorf("%w: %s", ErrUnsupportedOperand, op)
}

// powInt computes l**r (r >= 0) by squaring. ok is false on overflow.
func powInt(l, r int64) (int64, bool) {
	result, base := int64(1), l
	for e := r; e > 0; e >>= 1 {
		var ok bool
		if e&1 != 0 {
			if result, ok = mulInt(result, base); !ok {
				return 0, false
			}
		}
		if e > 1 {
			if base, ok = mulInt(base, base); !ok {
				return 0, false
			}
		}
	}
	return result, true
}

// mulInt multiplies a and b, reporting false if the product does not fit.
func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a == math.MinInt64 || b == math.MinInt64 {
		switch {
		case a == 1:
			return b, true
		case b == 1:
			return a, true
		}
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(absInt(a)), uint64(absInt(b)))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return a * b, true
}

func floatArith(op SetOpOp, l, r float64) (Value, error) {
	switch op {
	case SetOpAdd:
		return FromDouble(l + r), nil
	case SetOpSub:
		return FromDouble(l - r), nil
	case SetOpMul:
		return FromDouble(l * r), nil
	case SetOpDiv:
		if r == 0 {
			return Null, fmt.Errorf("%w: division by zero", ErrDivisionByZero)
		}
		return FromDouble(l / r), nil
	case SetOpPow:
		return FromDouble(math.Pow(l, r)), nil
	}
	return Null, fmt.Errorf("%w: %s", ErrUnsupportedOperand, op)
}

func absInt(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// arrayUnion returns the elements of a followed by those keys of b that a
// lacks.
func arrayUnion(a, b *Array) *Array {
	out := a.Copy()
	b.Each(func(k string, v Value) bool {
		if !out.Has(k) {
			out.SetWithRef(k, v)
		}
		return true
	})
	return out
}

// ---------------------------------------------------------------------------
// Increment / decrement
// ---------------------------------------------------------------------------

// incDecBody applies op to cur. It returns the new value and the value of
// the expression.
func incDecBody(op IncDecOp, cur Value) (res, dest Value) {
	cur = cur.Deref()
	if op.isInc() {
		res = increment(cur)
	} else {
		res = decrement(cur)
	}
	if op.isPre() {
		return res, res
	}
	return res, cur
}

func increment(v Value) Value {
	switch v.kind {
	case KindNull, KindUninit:
		return FromInt(1)
	case KindInt:
		if v.Int() == math.MaxInt64 {
			return FromDouble(float64(v.Int()) + 1)
		}
		return FromInt(v.Int() + 1)
	case KindDouble:
		return FromDouble(v.Double() + 1)
	case KindString:
		s := v.Str()
		if s == "" {
			return FromString("1")
		}
		if n, ok := parseNumeric(s); ok {
			return increment(n)
		}
		return FromString(incrementString(s))
	}
	return v
}

func decrement(v Value) Value {
	switch v.kind {
	case KindInt:
		if v.Int() == math.MinInt64 {
			return FromDouble(float64(v.Int()) - 1)
		}
		return FromInt(v.Int() - 1)
	case KindDouble:
		return FromDouble(v.Double() - 1)
	case KindString:
		s := v.Str()
		if s == "" {
			return FromInt(-1)
		}
		if n, ok := parseNumeric(s); ok {
			return decrement(n)
		}
	}
	// Null and non-numeric strings are left alone.
	return v
}

// incrementString performs alphanumeric increment: "a" -> "b", "Az" -> "Ba",
// "zz" -> "aaa", "a9" -> "b0".
func incrementString(s string) string {
	b := []byte(s)
	for i := len(b) - 1; i >= 0; i-- {
		c := b[i]
		switch {
		case c >= 'a' && c < 'z', c >= 'A' && c < 'Z', c >= '0' && c < '9':
			b[i]++
			return string(b)
		case c == 'z':
			b[i] = 'a'
		case c == 'Z':
			b[i] = 'A'
		case c == '9':
			b[i] = '0'
		default:
			return string(b)
		}
	}
	// Carried out of the leftmost character.
	var first byte
	switch c := s[0]; {
	case c >= 'a' && c <= 'z':
		first = 'a'
	case c >= 'A' && c <= 'Z':
		first = 'A'
	default:
		first = '1'
	}
	return string(first) + string(b)
}

// ---------------------------------------------------------------------------
// Numeric coercion of scalars
// ---------------------------------------------------------------------------

// parseNumeric parses a fully numeric string (surrounding whitespace
// allowed) into an int or float Value.
func parseNumeric(s string) (Value, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return Null, false
	}
	if n, err := strconv.ParseInt(t, 10, 64); err == nil {
		return FromInt(n), true
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && !strings.ContainsAny(t, "xXpP_") {
		if strings.EqualFold(t, "inf") || strings.EqualFold(t, "infinity") || strings.EqualFold(t, "nan") ||
			strings.EqualFold(t, "+inf") || strings.EqualFold(t, "-inf") {
			return Null, false
		}
		return FromDouble(f), true
	}
	return Null, false
}

// numericPrefix returns the number at the start of s (0 if none), the way
// loose arithmetic reads strings.
func numericPrefix(s string) Value {
	t := strings.TrimLeft(s, " \t\n\r\v\f")
	end := 0
	if end < len(t) && (t[end] == '+' || t[end] == '-') {
		end++
	}
	digits := end
	for end < len(t) && t[end] >= '0' && t[end] <= '9' {
		end++
	}
	isFloat := false
	if end < len(t) && t[end] == '.' {
		j := end + 1
		for j < len(t) && t[j] >= '0' && t[j] <= '9' {
			j++
		}
		if j > end+1 || end > digits {
			isFloat = true
			end = j
		}
	}
	if end == digits {
		return FromInt(0)
	}
	if end < len(t) && (t[end] == 'e' || t[end] == 'E') {
		j := end + 1
		if j < len(t) && (t[j] == '+' || t[j] == '-') {
			j++
		}
		if j < len(t) && t[j] >= '0' && t[j] <= '9' {
			for j < len(t) && t[j] >= '0' && t[j] <= '9' {
				j++
			}
			isFloat = true
			end = j
		}
	}
	if !isFloat {
		if n, err := strconv.ParseInt(t[:end], 10, 64); err == nil {
			return FromInt(n)
		}
	}
	f, err := strconv.ParseFloat(t[:end], 64)
	if err != nil {
		return FromInt(0)
	}
	return FromDouble(f)
}

// toNumber converts a scalar to an int or float Value.
func toNumber(v Value) Value {
	v = v.Deref()
	switch v.kind {
	case KindInt, KindDouble:
		return v
	case KindBool:
		if v.Bool() {
			return FromInt(1)
		}
		return FromInt(0)
	case KindString:
		return numericPrefix(v.Str())
	case KindArray:
		if v.Array().Len() > 0 {
			return FromInt(1)
		}
	}
	return FromInt(0)
}

func numberAsFloat(n Value) float64 {
	if n.IsInt() {
		return float64(n.Int())
	}
	return n.Double()
}

// toInt64 converts a scalar to an integer, truncating floats.
func toInt64(v Value) int64 {
	n := toNumber(v)
	if n.IsInt() {
		return n.Int()
	}
	f := n.Double()
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0
	}
	return int64(f)
}
