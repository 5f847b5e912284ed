// Package ast defines the minimal typed-AST interface the IR builder
// consumes from its external collaborator (§6: "Consumed from external
// collaborators"). The lexer, parser, and type checker that produce these
// nodes are out of scope for this repository (§1); this package only
// states the contract between them and internal/irbuilder.
package ast

// NodeKind tags which AST production a Node represents.
type NodeKind int

const (
	IntLit NodeKind = iota
	FloatLit
	StringLit
	Ident
	Binary
	Unary
	Cast
	Index
	Member
	Call
	Assign
	Block
	VarDecl
	Return
	If
	While
	DoWhile
	For
	Switch
	Case
	Default
	Break
	Continue
	Goto
	Label
	Assert
	FuncDecl
)

// BinOp is the token code of a binary operator, handed to the builder by
// the parser's lexer (§6: "the builder is given the token code of each
// binary operator as a member of the AST binary node").
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLAnd
	OpLOr
)

// UnOp is the operator of a unary expression.
type UnOp int

const (
	UnNeg UnOp = iota
	UnNot
	UnBitNot
	UnAddr
	UnDeref
	UnPreInc
	UnPreDec
	UnPostInc
	UnPostDec
)

// Type is the resolved-type handle external type checking attaches to
// every node. The middle-end only reads Kind/Name/Size/Align/Elem off it;
// it never performs inference itself.
type Type struct {
	Kind  TypeKind
	Name  string
	Size  int
	Align int
	Elem  *Type
}

// TypeKind mirrors ir.TypeKind; kept as a distinct type here because the
// ast package models the external collaborator's output and must not
// import internal/ir (irbuilder is the only thing that translates between
// the two).
type TypeKind int

const (
	Void TypeKind = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Float64
	Pointer
	Struct
	Array
)

// Node is a single AST node. It is a flat tagged struct rather than an
// interface hierarchy: the fields actually used depend on Kind, matching
// the shape of a typed AST a parser would hand over (identifiers carry
// Name, binaries carry Op/Children[0:2], and so on). Line is the
// originating source line; Type is filled in by the external type checker
// for every expression node.
type Node struct {
	Kind NodeKind
	Line int
	Type *Type

	// Literals.
	IntVal    int64
	FloatVal  float64
	StringVal string

	// Ident, Member, FuncDecl name, Goto/Label target, VarDecl name.
	Name string

	// Binary/Unary operator code.
	BinOp BinOp
	UnOp  UnOp

	// Binary/Unary/Call/Index/Member/Cast operands; a Block's statement
	// list; a Switch's Case/Default children in source order; a Case or
	// Default's body statements.
	Children []*Node

	// FuncDecl: parameter list and body. A single "void" parameter means
	// zero parameters (§4.1) and is normalized away before this node is
	// built — Params is empty in that case, not a one-element void list.
	Params []Param
	Body   *Node // *Block

	// VarDecl: optional initializer, nil if absent. Assign: LHS/RHS via
	// Children[0]/Children[1].
	Init *Node

	// If: Cond + Then (*Block) + optional Else (*Block or nested *If).
	// While/DoWhile: Cond + Then (body *Block).
	// For: optional Init (VarDecl/Assign stmt), optional Cond, optional
	// Post (stmt), Then (body *Block). A clause is absent when nil.
	Cond *Node
	Then *Node
	Else *Node
	Post *Node

	// Goto/Label/Break/Continue with an explicit target: Name holds the
	// label.
}

// Param is one parameter of a FuncDecl.
type Param struct {
	Name string
	Type *Type
}
