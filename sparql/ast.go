// Package sparql parses SPARQL 1.1 Query and Update strings into typed
// syntax trees.
//
// The grammar is extended with `~name` parameter placeholders, which
// become typed bind slots resolved when a prepared statement executes.
package sparql

import (
	"github.com/tern-db/tern/rdf"
)

// Var is a SPARQL variable (without the leading ? or $).
type Var string

// Param is a `~name` placeholder.
type Param string

// PatternTerm is anything that may appear in a triple pattern slot:
// Var, Param, rdf.IRI, rdf.BlankNode or rdf.Literal.
type PatternTerm interface {
	patternTerm()
}

func (Var) patternTerm()           {}
func (Param) patternTerm()         {}
func (iriTerm) patternTerm()       {}
func (blankTerm) patternTerm()     {}
func (literalTerm) patternTerm()   {}

// Thin wrappers keep rdf types out of the sealed interface without
// copying their data.
type iriTerm struct{ IRI rdf.IRI }
type blankTerm struct{ Label rdf.BlankNode }
type literalTerm struct{ Lit rdf.Literal }

// TermIRI wraps an IRI as a pattern term.
func TermIRI(iri rdf.IRI) PatternTerm { return iriTerm{iri} }

// TermBlank wraps a blank node as a pattern term.
func TermBlank(b rdf.BlankNode) PatternTerm { return blankTerm{b} }

// TermLiteral wraps a literal as a pattern term.
func TermLiteral(l rdf.Literal) PatternTerm { return literalTerm{l} }

// AsIRI unwraps an IRI pattern term.
func AsIRI(t PatternTerm) (rdf.IRI, bool) {
	it, ok := t.(iriTerm)
	return it.IRI, ok
}

// AsBlank unwraps a blank-node pattern term.
func AsBlank(t PatternTerm) (rdf.BlankNode, bool) {
	bt, ok := t.(blankTerm)
	return bt.Label, ok
}

// AsLiteral unwraps a literal pattern term.
func AsLiteral(t PatternTerm) (rdf.Literal, bool) {
	lt, ok := t.(literalTerm)
	return lt.Lit, ok
}

// TriplePattern is one s-p-o pattern inside a BGP.
type TriplePattern struct {
	Subject   PatternTerm
	Predicate PatternTerm
	Object    PatternTerm
}

// QuadPattern extends TriplePattern with a graph slot for update data
// templates. Graph nil means the default (or WITH) graph.
type QuadPattern struct {
	Graph PatternTerm
	TriplePattern
}

// PatternElement is one element of a group graph pattern.
type PatternElement interface {
	patternElement()
}

// BGP is a run of consecutive triple patterns.
type BGP struct {
	Triples []TriplePattern
}

// GraphGroup is GRAPH <g> { … } or GRAPH ?g { … }.
type GraphGroup struct {
	Graph   PatternTerm
	Pattern GroupGraphPattern
}

// Optional is OPTIONAL { … }.
type Optional struct {
	Pattern GroupGraphPattern
}

// Union is two or more alternatives joined by UNION.
type Union struct {
	Alternatives []GroupGraphPattern
}

// Minus is MINUS { … }.
type Minus struct {
	Pattern GroupGraphPattern
}

// Filter is FILTER(expr).
type Filter struct {
	Expr Expression
}

// Bind is BIND(expr AS ?v).
type Bind struct {
	Expr Expression
	Var  Var
}

// InlineData is VALUES ?v { … } / VALUES (?a ?b) { (…) }.
type InlineData struct {
	Vars []Var
	// Rows hold one PatternTerm per var; nil means UNDEF.
	Rows [][]PatternTerm
}

// Service is SERVICE [SILENT] <endpoint> { … }. Raw preserves the inner
// pattern text for forwarding to the remote endpoint.
type Service struct {
	Silent   bool
	Endpoint PatternTerm // IRI or Var
	Pattern  GroupGraphPattern
	Raw      string
}

// SubSelect is a nested SELECT used as a pattern element.
type SubSelect struct {
	Query *SelectQuery
}

func (BGP) patternElement()        {}
func (GraphGroup) patternElement() {}
func (Optional) patternElement()   {}
func (Union) patternElement()      {}
func (Minus) patternElement()      {}
func (Filter) patternElement()     {}
func (Bind) patternElement()       {}
func (InlineData) patternElement() {}
func (Service) patternElement()    {}
func (SubSelect) patternElement()  {}

// GroupGraphPattern is `{ … }`.
type GroupGraphPattern struct {
	Elements []PatternElement
}

// --- expressions ---

// Expression is the sealed expression interface.
type Expression interface {
	expression()
}

// ExprVar references a variable.
type ExprVar struct{ Name Var }

// ExprParam references a `~name` placeholder.
type ExprParam struct{ Name Param }

// ExprLiteral is a literal constant.
type ExprLiteral struct{ Lit rdf.Literal }

// ExprIRI is an IRI constant.
type ExprIRI struct{ IRI rdf.IRI }

// ExprCall is a built-in or aggregate call. For GROUP_CONCAT, Separator
// holds the SEPARATOR argument and OrderBy an ordering applied inside
// the aggregate.
type ExprCall struct {
	Func      string // upper-cased function name
	Args      []Expression
	Distinct  bool
	Star      bool // COUNT(*)
	Separator string
	OrderBy   []OrderCondition
}

// ExprBinary is a binary operation: || && = != < > <= >= + - * /.
// IN and NOT IN are ExprIn.
type ExprBinary struct {
	Op   string
	L, R Expression
}

// ExprUnary is ! or unary minus.
type ExprUnary struct {
	Op string
	X  Expression
}

// ExprExists is [NOT] EXISTS { … }.
type ExprExists struct {
	Not     bool
	Pattern GroupGraphPattern
}

// ExprIn is x [NOT] IN (list).
type ExprIn struct {
	Not  bool
	X    Expression
	List []Expression
}

func (ExprVar) expression()     {}
func (ExprParam) expression()   {}
func (ExprLiteral) expression() {}
func (ExprIRI) expression()     {}
func (ExprCall) expression()    {}
func (ExprBinary) expression()  {}
func (ExprUnary) expression()   {}
func (ExprExists) expression()  {}
func (ExprIn) expression()      {}

// --- query forms ---

// SelectItem is one projection entry: a bare variable or expr AS var.
type SelectItem struct {
	Var  Var
	Expr Expression // nil for a bare variable
}

// OrderCondition is one ORDER BY entry.
type OrderCondition struct {
	Expr       Expression
	Descending bool
}

// Modifiers hold the solution modifiers shared by the query forms.
// Limit/Offset are -1 when absent.
type Modifiers struct {
	GroupBy []Expression
	Having  []Expression
	OrderBy []OrderCondition
	Limit   int64
	Offset  int64
	Values  *InlineData
}

// QueryForm is the sealed interface over the four query forms.
type QueryForm interface {
	queryForm()
}

// SelectQuery is the SELECT form.
type SelectQuery struct {
	Distinct bool
	Reduced  bool
	Star     bool
	Items    []SelectItem
	Where    GroupGraphPattern
	Mods     Modifiers
}

// AskQuery is the ASK form.
type AskQuery struct {
	Where GroupGraphPattern
	Mods  Modifiers
}

// ConstructQuery is the CONSTRUCT form.
type ConstructQuery struct {
	Template []QuadPattern
	Where    GroupGraphPattern
	Mods     Modifiers
}

// DescribeQuery is the DESCRIBE form. Targets are IRIs or variables;
// Where may be empty.
type DescribeQuery struct {
	Star    bool
	Targets []PatternTerm
	Where   GroupGraphPattern
	Mods    Modifiers
}

func (*SelectQuery) queryForm()    {}
func (*AskQuery) queryForm()       {}
func (*ConstructQuery) queryForm() {}
func (*DescribeQuery) queryForm()  {}

// Query is a parsed SPARQL query.
type Query struct {
	Base     string
	Prefixes map[string]rdf.IRI
	Form     QueryForm
	// Params lists the distinct ~name placeholders in first-seen order.
	Params []Param
}

// --- updates ---

// GraphRef names a graph or a graph set in CLEAR/DROP/etc.
type GraphRef struct {
	// IRI is set for GRAPH <iri>; otherwise one of the flags applies.
	IRI     rdf.IRI
	Default bool
	Named   bool
	All     bool
}

// UpdateOp is the sealed interface over update operations.
type UpdateOp interface {
	updateOp()
}

// InsertData is INSERT DATA { quads }.
type InsertData struct {
	Quads []QuadPattern
}

// DeleteData is DELETE DATA { quads }.
type DeleteData struct {
	Quads []QuadPattern
}

// Modify is [WITH <g>] DELETE {…} INSERT {…} WHERE {…} and the
// DELETE/INSERT WHERE shorthands.
type Modify struct {
	With    rdf.IRI
	Delete  []QuadPattern
	Insert  []QuadPattern
	Using   []rdf.IRI
	Where   GroupGraphPattern
	// WhereIsDeleteTemplate marks `DELETE WHERE { … }`.
	WhereIsDeleteTemplate bool
}

// Load is LOAD [SILENT] <doc> [INTO GRAPH <g>].
type Load struct {
	Silent bool
	Source rdf.IRI
	Into   rdf.IRI
}

// Clear is CLEAR [SILENT] target.
type Clear struct {
	Silent bool
	Target GraphRef
}

// Create is CREATE [SILENT] GRAPH <g>.
type Create struct {
	Silent bool
	Graph  rdf.IRI
}

// Drop is DROP [SILENT] target.
type Drop struct {
	Silent bool
	Target GraphRef
}

// MoveCopyAdd covers ADD/MOVE/COPY [SILENT] from TO to.
type MoveCopyAdd struct {
	Verb   string // "ADD", "MOVE" or "COPY"
	Silent bool
	From   GraphRef
	To     GraphRef
}

func (InsertData) updateOp()  {}
func (DeleteData) updateOp()  {}
func (Modify) updateOp()      {}
func (Load) updateOp()        {}
func (Clear) updateOp()       {}
func (Create) updateOp()      {}
func (Drop) updateOp()        {}
func (MoveCopyAdd) updateOp() {}

// Update is a parsed SPARQL update request: one or more operations
// separated by semicolons, executed in one transaction.
type Update struct {
	Base     string
	Prefixes map[string]rdf.IRI
	Ops      []UpdateOp
	Params   []Param
}
