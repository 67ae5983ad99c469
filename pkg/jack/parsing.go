package jack

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	pc "github.com/prataprc/goparsec"

	"github.com/hackforge/n2t/pkg/utils"
)

// ----------------------------------------------------------------------------
// Comment stripping

// Jack comments (both '//' and '/* */' forms) can appear virtually anywhere in the source,
// which would force a comment alternative into nearly every grammar rule below. Instead we
// strip comments in a pre-pass, the same way a real compiler's lexer would discard them
// before the parser ever sees a token stream. The one accepted edge case: a string literal
// that itself contains the text '//' or '/*' will have it stripped too, since this pass runs
// before string literals are recognized as such.
var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`//[^\n]*`)
)

func stripComments(source []byte) []byte {
	out := reBlockComment.ReplaceAll(source, []byte(" "))
	out = reLineComment.ReplaceAll(out, []byte(""))
	return out
}

// ----------------------------------------------------------------------------
// Parser Combinator(s)

// This section defines the Parser Combinator for every token & construct of the Jack language.
//
// The Jack expression grammar is intentionally flat (no operator precedence: "term (op term)*"
// parses left to right, precedence is left entirely to the programmer via parentheses), which
// keeps the combinators below a straightforward transliteration of the language's own grammar.
// 'pExpr' and 'pTerm' are mutually recursive (an expression can parenthesize or index by another
// expression), so both are forward-declared and wired together in 'init' to break the Go
// initialization cycle a direct circular var-initializer would otherwise hit.
var ast = pc.NewAST("jack_program", 0)

// kw builds a word-bounded keyword token, so e.g. the keyword "if" never matches inside an
// identifier like "ifStatement".
func kw(text string) pc.Parser {
	return pc.Token(`\b`+text+`\b`, strings.ToUpper(text))
}

var (
	pIdent  = pc.Token(`[A-Za-z_][A-Za-z0-9_]*`, "IDENT")
	pString = pc.Token(`"(?:\\.|[^"\\])*"`, "STRING")

	pDot        = pc.Atom(".", "DOT")
	pComma      = pc.Atom(",", "COMMA")
	pSemi       = pc.Atom(";", "SEMI")
	pEquals     = pc.Atom("=", "ASSIGN")
	pLBrace     = pc.Atom("{", "LBRACE")
	pRBrace     = pc.Atom("}", "RBRACE")
	pLParen     = pc.Atom("(", "LPAREN")
	pRParen     = pc.Atom(")", "RPAREN")
	pLBracket   = pc.Atom("[", "LBRACKET")
	pRBracket   = pc.Atom("]", "RBRACKET")

	pOp = ast.OrdChoice("op", nil,
		pc.Atom("+", "+"), pc.Atom("-", "-"), pc.Atom("*", "*"), pc.Atom("/", "/"),
		pc.Atom("&", "&"), pc.Atom("|", "|"), pc.Atom("<", "<"), pc.Atom(">", ">"), pc.Atom("=", "="),
	)
	pUnaryOp = ast.OrdChoice("unary_op", nil, pc.Atom("-", "-"), pc.Atom("~", "~"))

	// Types, as they appear in field/parameter/variable declarations ('void' is return-type only)
	pType = ast.OrdChoice("type", nil, kw("int"), kw("char"), kw("boolean"), pIdent)
)

// pExpr and pTerm recurse into one another (parens, array index, call arguments); they are
// forward-declared here and assigned in 'init' once every combinator that depends on them exists.
var pExpr, pTerm pc.Parser

func exprRef(s pc.Scanner) (pc.ParsecNode, pc.Scanner) { return pExpr(s) }
func termRef(s pc.Scanner) (pc.ParsecNode, pc.Scanner) { return pTerm(s) }

var (
	pExprList = ast.Kleene("expr_list", nil, exprRef, pComma)

	pSubroutineCall = ast.And("subroutine_call", nil,
		pIdent, ast.Maybe("qualifier", nil, ast.And("qualified_name", nil, pDot, pIdent)),
		pLParen, pExprList, pRParen,
	)

	pArrayTerm = ast.And("array_term", nil, pIdent, pLBracket, exprRef, pRBracket)
	pUnaryTerm = ast.And("unary_term", nil, pUnaryOp, termRef)
	pParenTerm = ast.And("paren_term", nil, pLParen, exprRef, pRParen)

	pTrueConst  = kw("true")
	pFalseConst = kw("false")
	pNullConst  = kw("null")
	pThisConst  = kw("this")
)

func init() {
	pTerm = ast.OrdChoice("term", nil,
		pc.Int(), pString, pTrueConst, pFalseConst, pNullConst, pThisConst,
		pSubroutineCall, pArrayTerm, pUnaryTerm, pParenTerm, pIdent,
	)
	pExpr = ast.And("expression", nil, termRef, ast.Kleene("op_terms", nil, ast.And("op_term", nil, pOp, termRef)))
}

var (
	pVarKind = ast.OrdChoice("var_kind", nil, kw("static"), kw("field"))

	pVarNameList = ast.Kleene("var_names", nil, ast.And("comma_var", nil, pComma, pIdent))

	pClassVarDec = ast.And("class_var_dec", nil, pVarKind, pType, pIdent, pVarNameList, pSemi)
	pVarDec      = ast.And("var_dec", nil, kw("var"), pType, pIdent, pVarNameList, pSemi)

	pParameter     = ast.And("parameter", nil, pType, pIdent)
	pParameterList = ast.Kleene("parameter_list", nil, pParameter, pComma)

	pSubroutineKind = ast.OrdChoice("subroutine_kind", nil, kw("constructor"), kw("function"), kw("method"))
	pReturnType     = ast.OrdChoice("return_type", nil, kw("void"), pType)
)

var (
	pLetStmt = ast.And("let_stmt", nil,
		kw("let"), pIdent, ast.Maybe("index", nil, ast.And("array_index", nil, pLBracket, exprRef, pRBracket)),
		pEquals, exprRef, pSemi,
	)

	pIfStmt = ast.And("if_stmt", nil,
		kw("if"), pLParen, exprRef, pRParen, pLBrace, pStatementsRef, pRBrace,
		ast.Maybe("else_block", nil, ast.And("else_block_inner", nil, kw("else"), pLBrace, pStatementsRef, pRBrace)),
	)

	pWhileStmt = ast.And("while_stmt", nil,
		kw("while"), pLParen, exprRef, pRParen, pLBrace, pStatementsRef, pRBrace,
	)

	pDoStmt = ast.And("do_stmt", nil, kw("do"), pSubroutineCall, pSemi)

	pReturnStmt = ast.And("return_stmt", nil, kw("return"), ast.Maybe("expr", nil, exprRef), pSemi)

	pStatement = ast.OrdChoice("statement", nil, pLetStmt, pIfStmt, pWhileStmt, pDoStmt, pReturnStmt)
)

// pStatements recurses through pIfStmt/pWhileStmt (a block contains statements, a statement
// can be a block-carrying if/while), so it needs the same forward-declare-then-wire treatment.
var pStatements pc.Parser

func pStatementsRef(s pc.Scanner) (pc.ParsecNode, pc.Scanner) { return pStatements(s) }

func init() { pStatements = ast.Kleene("statements", nil, pStatement) }

var pSubroutineDec = ast.And("subroutine_dec", nil,
	pSubroutineKind, pReturnType, pIdent,
	pLParen, pParameterList, pRParen,
	pLBrace, ast.Kleene("var_decs", nil, pVarDec), pStatementsRef, pRBrace,
)

var pClass = ast.And("class_decl", nil,
	kw("class"), pIdent, pLBrace,
	ast.Kleene("class_var_decs", nil, pClassVarDec),
	ast.Kleene("subroutine_decs", nil, pSubroutineDec),
	pRBrace,
)

// ----------------------------------------------------------------------------
// Jack Parser

// This section defines the Parser for the nand2tetris Jack language.
//
// It uses parser combinator(s) to obtain the AST from the source code (the latter can be provided)
// in multiple ways using a generic io.Reader, the library reads up the feature flags (as env vars):
// - PARSEC_DEBUG: Verbose logging to inspect which of the PCs gets triggered and match
// - EXPORT_AST:   Exports in the DEBUG_FOLDER a Graphviz representation of the AST
// - PRINT_AST:    Print on the stdout a textual representation of the AST
type Parser struct{ reader io.Reader }

// Initializes and returns to the caller a brand new 'Parser' struct.
// Requires the argument io.Reader 'r' to be valid and usable.
func NewParser(r io.Reader) Parser {
	return Parser{reader: r}
}

// Parser entrypoint divides the 2 phases of the parsing pipeline
// Text --> AST: This step is done using PCs and returns a generic traversable AST
// AST --> IR: This step is done by traversing the AST and extracting the 'jack.Class'
func (p *Parser) Parse() (Class, error) {
	content, err := io.ReadAll(p.reader)
	if err != nil {
		return Class{}, fmt.Errorf("cannot read from 'io.Reader': %s", err)
	}

	root, success := p.FromSource(stripComments(content))
	if !success {
		return Class{}, fmt.Errorf("failed to parse AST from input content")
	}

	return p.FromAST(root)
}

// Scans the textual input stream coming from the 'reader' method and returns a traversable AST
// (Abstract Syntax Tree) that can be eventually visited to extract/transform the info available.
func (p *Parser) FromSource(source []byte) (pc.Queryable, bool) {

	// Feature flag: Enable 'goparsec' library's debug logs
	if os.Getenv("PARSEC_DEBUG") != "" {
		ast.SetDebug()
	}

	// We generate the traversable Abstract Syntax Tree from the source content
	root, remaining := ast.Parsewith(pClass, pc.NewScanner(source))

	// Feature flag: Enables export of the AST as Dot file (debug.ast.dot)
	if os.Getenv("EXPORT_AST") != "" {
		file, _ := os.Create(fmt.Sprintf("%s/debug.ast.dot", os.Getenv("DEBUG_FOLDER")))
		defer file.Close()

		file.Write([]byte(ast.Dotstring("\"Jack AST\"")))
	}

	// Feature flag: Enables pretty printing of the AST on the console
	if os.Getenv("PRINT_AST") != "" {
		ast.Prettyprint()
	}

	// Success only if the whole input was consumed; leftover unparsed bytes mean a syntax error.
	return root, root != nil && remaining != nil && remaining.Endof()
}

// This function takes the root node of the raw parsed AST and does a DFS on it parsing
// one by one each subtree and returning a 'jack.Class' that can be used as in-memory and
// type-safe AST not dependent on the parsing library used.
func (p *Parser) FromAST(root pc.Queryable) (Class, error) {
	if root.GetName() != "class_decl" {
		return Class{}, fmt.Errorf("expected node 'class_decl', found %s", root.GetName())
	}

	children := root.GetChildren()
	class := Class{
		Name:        children[1].GetValue(),
		Fields:      utils.OrderedMap[string, Variable]{},
		Subroutines: utils.OrderedMap[string, Subroutine]{},
	}

	for _, cvd := range children[3].GetChildren() {
		vars, err := p.HandleVarDecLike(cvd)
		if err != nil {
			return Class{}, fmt.Errorf("error handling class var declaration: %w", err)
		}
		for _, v := range vars {
			class.Fields.Set(v.Name, v)
		}
	}

	for _, sd := range children[4].GetChildren() {
		subroutine, err := p.HandleSubroutineDec(sd)
		if err != nil {
			return Class{}, fmt.Errorf("error handling subroutine '%s': %w", sd.GetValue(), err)
		}
		class.Subroutines.Set(subroutine.Name, subroutine)
	}

	return class, nil
}

// Specialized function to convert a "class_var_dec" or "var_dec" node to a list of 'jack.Variable'.
//
// Both share the exact same shape (kind, type, first name, comma-separated extra names, ';')
// so a single handler covers class fields/statics as well as subroutine-local 'var' declarations.
func (Parser) HandleVarDecLike(node pc.Queryable) ([]Variable, error) {
	children := node.GetChildren()
	if len(children) != 5 {
		return nil, fmt.Errorf("malformed variable declaration, expected 5 children got %d", len(children))
	}

	varType, err := HandleDataType(children[1])
	if err != nil {
		return nil, err
	}

	kind, err := HandleVarKind(children[0])
	if err != nil {
		return nil, err
	}

	names := []string{children[2].GetValue()}
	for _, extra := range children[3].GetChildren() { // "comma_var": [0]=',' [1]=IDENT
		names = append(names, extra.GetChildren()[1].GetValue())
	}

	vars := make([]Variable, 0, len(names))
	for _, name := range names {
		vars = append(vars, Variable{Name: name, VarType: kind, DataType: varType})
	}
	return vars, nil
}

// Specialized function to convert a "static"/"field"/"var" keyword node to a 'jack.VarType'.
func HandleVarKind(node pc.Queryable) (VarType, error) {
	switch node.GetName() {
	case "STATIC":
		return Static, nil
	case "FIELD":
		return Field, nil
	case "VAR":
		return Local, nil
	default:
		return "", fmt.Errorf("unrecognized variable kind '%s'", node.GetName())
	}
}

// Specialized function to convert a "type"/"return_type" winning alternative node to a 'jack.DataType'.
func HandleDataType(node pc.Queryable) (DataType, error) {
	switch node.GetName() {
	case "INT":
		return DataType{Main: Int}, nil
	case "CHAR":
		return DataType{Main: Char}, nil
	case "BOOLEAN":
		return DataType{Main: Bool}, nil
	case "VOID":
		return DataType{Main: Void}, nil
	case "IDENT":
		return DataType{Main: Object, Subtype: node.GetValue()}, nil
	default:
		return DataType{}, fmt.Errorf("unrecognized data type '%s'", node.GetName())
	}
}

// Specialized function to convert a "subroutine_dec" node to a 'jack.Subroutine'.
func (p Parser) HandleSubroutineDec(node pc.Queryable) (Subroutine, error) {
	children := node.GetChildren()
	if len(children) != 10 {
		return Subroutine{}, fmt.Errorf("malformed subroutine declaration, expected 10 children got %d", len(children))
	}

	kind, err := HandleSubroutineKind(children[0])
	if err != nil {
		return Subroutine{}, err
	}
	returnType, err := HandleDataType(children[1])
	if err != nil {
		return Subroutine{}, err
	}

	args := utils.OrderedMap[string, Variable]{}
	for _, param := range children[4].GetChildren() { // "parameter": [0]=type [1]=IDENT
		pType, err := HandleDataType(param.GetChildren()[0])
		if err != nil {
			return Subroutine{}, err
		}
		pName := param.GetChildren()[1].GetValue()
		args.Set(pName, Variable{Name: pName, VarType: Parameter, DataType: pType})
	}

	statements := []Statement{}
	for _, vd := range children[7].GetChildren() { // "var_decs": list of "var_dec"
		vars, err := p.HandleVarDecLike(vd)
		if err != nil {
			return Subroutine{}, fmt.Errorf("error handling local variable declaration: %w", err)
		}
		statements = append(statements, VarStmt{Vars: vars})
	}

	body, err := p.HandleStatements(children[8])
	if err != nil {
		return Subroutine{}, err
	}
	statements = append(statements, body...)

	return Subroutine{
		Name:       children[2].GetValue(),
		Type:       kind,
		Return:     returnType,
		Arguments:  args,
		Statements: statements,
	}, nil
}

// Specialized function to convert a "constructor"/"function"/"method" keyword node to a 'jack.SubroutineType'.
func HandleSubroutineKind(node pc.Queryable) (SubroutineType, error) {
	switch node.GetName() {
	case "CONSTRUCTOR":
		return Constructor, nil
	case "FUNCTION":
		return Function, nil
	case "METHOD":
		return Method, nil
	default:
		return "", fmt.Errorf("unrecognized subroutine kind '%s'", node.GetName())
	}
}

// Specialized function to convert a "statements" node to a list of 'jack.Statement'.
func (p Parser) HandleStatements(node pc.Queryable) ([]Statement, error) {
	statements := []Statement{}
	for _, child := range node.GetChildren() {
		stmt, err := p.HandleStatement(child)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

// Generalized function to convert any single statement node to a 'jack.Statement'.
func (p Parser) HandleStatement(node pc.Queryable) (Statement, error) {
	switch node.GetName() {
	case "let_stmt":
		return p.HandleLetStmt(node)
	case "if_stmt":
		return p.HandleIfStmt(node)
	case "while_stmt":
		return p.HandleWhileStmt(node)
	case "do_stmt":
		return p.HandleDoStmt(node)
	case "return_stmt":
		return p.HandleReturnStmt(node)
	default:
		return nil, fmt.Errorf("unrecognized statement node '%s'", node.GetName())
	}
}

func (p Parser) HandleLetStmt(node pc.Queryable) (Statement, error) {
	children := node.GetChildren() // [0]=LET [1]=IDENT [2]=maybe-index [3]='=' [4]=expr [5]=';'

	rhs, err := p.HandleExpr(children[4])
	if err != nil {
		return nil, fmt.Errorf("error handling 'let' RHS: %w", err)
	}

	varName := children[1].GetValue()
	maybeIndex := children[2]

	if maybeIndex.GetName() == "array_index" && len(maybeIndex.GetChildren()) == 3 {
		idx, err := p.HandleExpr(maybeIndex.GetChildren()[1])
		if err != nil {
			return nil, fmt.Errorf("error handling 'let' array index: %w", err)
		}
		return LetStmt{Lhs: ArrayExpr{Var: varName, Index: idx}, Rhs: rhs}, nil
	}

	return LetStmt{Lhs: VarExpr{Var: varName}, Rhs: rhs}, nil
}

func (p Parser) HandleIfStmt(node pc.Queryable) (Statement, error) {
	children := node.GetChildren() // [0]=IF [1]='(' [2]=cond [3]=')' [4]='{' [5]=then [6]='}' [7]=maybe-else

	cond, err := p.HandleExpr(children[2])
	if err != nil {
		return nil, fmt.Errorf("error handling 'if' condition: %w", err)
	}
	thenBlock, err := p.HandleStatements(children[5])
	if err != nil {
		return nil, err
	}

	elseBlock := []Statement{}
	maybeElse := children[7]
	if maybeElse.GetName() == "else_block_inner" && len(maybeElse.GetChildren()) == 4 {
		elseBlock, err = p.HandleStatements(maybeElse.GetChildren()[2])
		if err != nil {
			return nil, err
		}
	}

	return IfStmt{Condition: cond, ThenBlock: thenBlock, ElseBlock: elseBlock}, nil
}

func (p Parser) HandleWhileStmt(node pc.Queryable) (Statement, error) {
	children := node.GetChildren() // [0]=WHILE [1]='(' [2]=cond [3]=')' [4]='{' [5]=body [6]='}'

	cond, err := p.HandleExpr(children[2])
	if err != nil {
		return nil, fmt.Errorf("error handling 'while' condition: %w", err)
	}
	block, err := p.HandleStatements(children[5])
	if err != nil {
		return nil, err
	}

	return WhileStmt{Condition: cond, Block: block}, nil
}

func (p Parser) HandleDoStmt(node pc.Queryable) (Statement, error) {
	children := node.GetChildren() // [0]=DO [1]=subroutine_call [2]=';'

	call, err := p.HandleSubroutineCall(children[1])
	if err != nil {
		return nil, fmt.Errorf("error handling 'do' call: %w", err)
	}
	return DoStmt{FuncCall: call}, nil
}

func (p Parser) HandleReturnStmt(node pc.Queryable) (Statement, error) {
	children := node.GetChildren() // [0]=RETURN [1]=maybe-expr [2]=';'

	maybeExpr := children[1]
	if maybeExpr.GetName() != "expression" {
		return ReturnStmt{Expr: nil}, nil
	}

	expr, err := p.HandleExpr(maybeExpr)
	if err != nil {
		return nil, fmt.Errorf("error handling 'return' expression: %w", err)
	}
	return ReturnStmt{Expr: expr}, nil
}

// Specialized function to convert a "subroutine_call" node to a 'jack.FuncCallExpr'.
func (p Parser) HandleSubroutineCall(node pc.Queryable) (FuncCallExpr, error) {
	children := node.GetChildren() // [0]=IDENT [1]=maybe-qualifier [2]='(' [3]=expr_list [4]=')'

	args := []Expression{}
	for _, argNode := range children[3].GetChildren() {
		arg, err := p.HandleExpr(argNode)
		if err != nil {
			return FuncCallExpr{}, fmt.Errorf("error handling call argument: %w", err)
		}
		args = append(args, arg)
	}

	maybeQualifier := children[1]
	if maybeQualifier.GetName() == "qualified_name" && len(maybeQualifier.GetChildren()) == 2 {
		return FuncCallExpr{
			IsExtCall: true,
			Var:       children[0].GetValue(),
			FuncName:  maybeQualifier.GetChildren()[1].GetValue(),
			Arguments: args,
		}, nil
	}

	return FuncCallExpr{IsExtCall: false, Var: "", FuncName: children[0].GetValue(), Arguments: args}, nil
}

// Specialized function to convert an "expression" node (term (op term)*) to a 'jack.Expression',
// left-folding the flat operator chain into nested 'jack.BinaryExpr' nodes.
func (p Parser) HandleExpr(node pc.Queryable) (Expression, error) {
	children := node.GetChildren() // [0]=first term [1]=op_terms (Kleene)
	if len(children) != 2 {
		return nil, fmt.Errorf("malformed expression, expected 2 children got %d", len(children))
	}

	result, err := p.HandleTerm(children[0])
	if err != nil {
		return nil, err
	}

	for _, opTerm := range children[1].GetChildren() { // "op_term": [0]=op atom [1]=term
		opStr := opTerm.GetChildren()[0].GetValue()
		rhs, err := p.HandleTerm(opTerm.GetChildren()[1])
		if err != nil {
			return nil, err
		}

		exprType, err := HandleBinaryOp(opStr)
		if err != nil {
			return nil, err
		}
		result = BinaryExpr{Type: exprType, Lhs: result, Rhs: rhs}
	}

	return result, nil
}

func HandleBinaryOp(op string) (ExprType, error) {
	switch op {
	case "+":
		return Plus, nil
	case "-":
		return Minus, nil
	case "*":
		return Multiply, nil
	case "/":
		return Divide, nil
	case "&":
		return BoolAnd, nil
	case "|":
		return BoolOr, nil
	case "<":
		return LessThan, nil
	case ">":
		return GreatThan, nil
	case "=":
		return Equal, nil
	default:
		return "", fmt.Errorf("unrecognized binary operator '%s'", op)
	}
}

// Generalized function to convert any term node (the winning alternative of 'pTerm') to a 'jack.Expression'.
func (p Parser) HandleTerm(node pc.Queryable) (Expression, error) {
	switch node.GetName() {
	case "INT":
		return LiteralExpr{Type: DataType{Main: Int}, Value: node.GetValue()}, nil

	case "STRING":
		raw := node.GetValue()
		return LiteralExpr{Type: DataType{Main: String}, Value: strings.Trim(raw, `"`)}, nil

	case "TRUE":
		return LiteralExpr{Type: DataType{Main: Bool}, Value: "true"}, nil
	case "FALSE":
		return LiteralExpr{Type: DataType{Main: Bool}, Value: "false"}, nil
	case "NULL":
		return LiteralExpr{Type: DataType{Main: Null}, Value: "null"}, nil
	case "THIS":
		return VarExpr{Var: "this"}, nil

	case "subroutine_call":
		return p.HandleSubroutineCall(node)

	case "array_term":
		children := node.GetChildren() // [0]=IDENT [1]='[' [2]=expr [3]=']'
		idx, err := p.HandleExpr(children[2])
		if err != nil {
			return nil, fmt.Errorf("error handling array index: %w", err)
		}
		return ArrayExpr{Var: children[0].GetValue(), Index: idx}, nil

	case "unary_term":
		children := node.GetChildren() // [0]=op [1]=term
		inner, err := p.HandleTerm(children[1])
		if err != nil {
			return nil, fmt.Errorf("error handling unary operand: %w", err)
		}
		if children[0].GetValue() == "~" {
			return UnaryExpr{Type: BoolNot, Rhs: inner}, nil
		}
		return UnaryExpr{Type: Minus, Rhs: inner}, nil

	case "paren_term":
		children := node.GetChildren() // [0]='(' [1]=expr [2]=')'
		return p.HandleExpr(children[1])

	case "IDENT":
		return VarExpr{Var: node.GetValue()}, nil

	default:
		return nil, fmt.Errorf("unrecognized term node '%s'", node.GetName())
	}
}
