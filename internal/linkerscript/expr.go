package linkerscript

// Expr is the tagged-variant expression tree for the linker-script
// expression grammar (spec.md section 6): integer/symbol literals, the
// location counter, unary/binary operators, the ternary operator, and the
// built-in functions (ALIGN, ADDR, LOADADDR, SIZEOF, SIZEOF_HEADERS,
// MAX, MIN, DEFINED, ORIGIN, LENGTH, ABSOLUTE, NEXT, DATA_SEGMENT_ALIGN,
// DATA_SEGMENT_RELRO_END, DATA_SEGMENT_END, CONSTANT).
type Expr interface{ exprNode() }

type NumberExpr struct{ Value uint64 }
type SymbolExpr struct{ Name string }
type DotExpr struct{}

func (NumberExpr) exprNode() {}
func (SymbolExpr) exprNode() {}
func (DotExpr) exprNode()    {}

type UnaryExpr struct {
	Op string // "-", "!", "~"
	X  Expr
}

func (*UnaryExpr) exprNode() {}

type BinaryExpr struct {
	Op   string
	X, Y Expr
}

func (*BinaryExpr) exprNode() {}

// CondExpr is `cond ? then : else`.
type CondExpr struct{ Cond, Then, Else Expr }

func (*CondExpr) exprNode() {}

// CallExpr is a built-in function call: ALIGN(expr[, expr]), ADDR(section),
// LOADADDR(section), SIZEOF(section), SIZEOF_HEADERS, MAX(a,b), MIN(a,b),
// DEFINED(symbol), ORIGIN(region), LENGTH(region), ABSOLUTE(expr),
// NEXT(expr), DATA_SEGMENT_ALIGN(a,b), DATA_SEGMENT_RELRO_END(a,b),
// DATA_SEGMENT_END(expr), CONSTANT(name).
type CallExpr struct {
	Func string
	Args []Expr
}

func (*CallExpr) exprNode() {}

// NameArgExpr wraps a bare identifier argument to a function like ADDR(.text)
// or DEFINED(foo) where the argument must not be evaluated as a symbol
// reference before the call dispatches (section name vs. symbol name differ).
type NameArgExpr struct{ Name string }

func (NameArgExpr) exprNode() {}
