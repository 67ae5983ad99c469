package jack

import "fmt"

// ----------------------------------------------------------------------------
// Jack Type Checker

// The TypeChecker takes a 'jack.Program' and walks it the same way the Lowerer does (DFS,
// class by class then statement by statement) but never emits any 'vm.Operation': it only
// validates that variables are declared before use and that subroutine calls are resolvable,
// surfacing a descriptive error on the first problem found instead of compiling bad code.
type TypeChecker struct {
	program Program
	scopes  ScopeTable // Keeps track of the scopes and declared variables inside each one
}

// Initializes and returns to the caller a brand new 'TypeChecker' struct.
// Requires the argument Program to be not nil nor empty.
func NewTypeChecker(program Program) TypeChecker {
	return TypeChecker{program: program}
}

// Triggers the type-checking process. It visits the whole program without emitting any
// VM code, failing fast on the first class where a problem is detected.
func (tc *TypeChecker) Check() (bool, error) {
	if tc.program == nil || len(tc.program) == 0 {
		return false, fmt.Errorf("the given 'program' is empty or nil")
	}

	for name, class := range tc.program {
		if _, err := tc.HandleClass(class); err != nil {
			return false, fmt.Errorf("error type-checking class '%s': %w", name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Class' and nested fields.
func (tc *TypeChecker) HandleClass(class Class) (bool, error) {
	tc.scopes.PushClassScope(class.Name) // Keep track of the current scope being processed
	defer tc.scopes.PopClassScope()      // Reset the function name after processing

	for _, field := range class.Fields.Entries() {
		if _, err := tc.HandleVarStmt(VarStmt{Vars: []Variable{field}}); err != nil {
			return false, fmt.Errorf("error handling field '%s' in class '%s': %w", field.Name, class.Name, err)
		}
	}

	for _, subroutine := range class.Subroutines.Entries() {
		if _, err := tc.HandleSubroutine(subroutine); err != nil {
			return false, fmt.Errorf("error handling subroutine '%s' in class '%s': %w", subroutine.Name, class.Name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Subroutine' and nested fields.
func (tc *TypeChecker) HandleSubroutine(subroutine Subroutine) (bool, error) {
	tc.scopes.PushSubRoutineScope(subroutine.Name) // Keep track of the current subroutine function being processed
	defer tc.scopes.PopSubroutineScope()           // Reset the function name after processing

	if subroutine.Type == Method {
		tc.scopes.RegisterVariable(Variable{Name: "__obj", VarType: Parameter, DataType: DataType{Main: Object}})
	}

	// We add to the current scope also all of the arguments of the subroutine
	for _, arg := range subroutine.Arguments.Entries() {
		tc.scopes.RegisterVariable(arg)
	}

	hasReturn := false
	for _, stmt := range subroutine.Statements {
		if _, ok := stmt.(ReturnStmt); ok {
			hasReturn = true
		}
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error handling nested statement %T: %w", stmt, err)
		}
	}

	// A subroutine with an empty body is an ABI stub (e.g. a standard library declaration
	// pulled in to resolve calls against, never meant to be lowered for real) and has nothing
	// to check a 'return' against; only a subroutine with an actual body must return properly.
	if subroutine.Return.Main != Void && !hasReturn && len(subroutine.Statements) > 0 {
		return false, fmt.Errorf("subroutine '%s' declares return type '%s' but has no 'return' statement", subroutine.Name, subroutine.Return.Main)
	}

	return true, nil
}

// Generalized function to type-check multiple statements types.
func (tc *TypeChecker) HandleStatement(stmt Statement) (bool, error) {
	switch tStmt := stmt.(type) {
	case DoStmt:
		_, err := tc.HandleExpression(tStmt.FuncCall)
		return err == nil, err

	case VarStmt:
		return tc.HandleVarStmt(tStmt)

	case LetStmt:
		if _, err := tc.HandleExpression(tStmt.Lhs); err != nil {
			return false, fmt.Errorf("error handling 'let' LHS: %w", err)
		}
		if _, err := tc.HandleExpression(tStmt.Rhs); err != nil {
			return false, fmt.Errorf("error handling 'let' RHS: %w", err)
		}
		return true, nil

	case IfStmt:
		if _, err := tc.HandleExpression(tStmt.Condition); err != nil {
			return false, fmt.Errorf("error handling 'if' condition: %w", err)
		}
		for _, inner := range append(append([]Statement{}, tStmt.ThenBlock...), tStmt.ElseBlock...) {
			if _, err := tc.HandleStatement(inner); err != nil {
				return false, err
			}
		}
		return true, nil

	case WhileStmt:
		if _, err := tc.HandleExpression(tStmt.Condition); err != nil {
			return false, fmt.Errorf("error handling 'while' condition: %w", err)
		}
		for _, inner := range tStmt.Block {
			if _, err := tc.HandleStatement(inner); err != nil {
				return false, err
			}
		}
		return true, nil

	case ReturnStmt:
		if tStmt.Expr == nil {
			return true, nil
		}
		_, err := tc.HandleExpression(tStmt.Expr)
		return err == nil, err

	default:
		return false, fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

// Specialized function to type-check a 'jack.VarStmt', registering its variables in scope.
func (tc *TypeChecker) HandleVarStmt(statement VarStmt) (bool, error) {
	for _, variable := range statement.Vars {
		tc.scopes.RegisterVariable(variable)
	}
	return true, nil
}

// Generalized function to type-check multiple expression types, resolving every referenced
// variable and subroutine call against the current scope and the rest of the program.
func (tc *TypeChecker) HandleExpression(expr Expression) (DataType, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		if tExpr.Var == "this" {
			return DataType{Main: Object}, nil
		}
		_, variable, err := tc.scopes.ResolveVariable(tExpr.Var)
		if err != nil {
			return DataType{}, err
		}
		return variable.DataType, nil

	case LiteralExpr:
		return tExpr.Type, nil

	case ArrayExpr:
		if _, _, err := tc.scopes.ResolveVariable(tExpr.Var); err != nil {
			return DataType{}, err
		}
		if _, err := tc.HandleExpression(tExpr.Index); err != nil {
			return DataType{}, err
		}
		return DataType{Main: Int}, nil

	case UnaryExpr:
		return tc.HandleExpression(tExpr.Rhs)

	case BinaryExpr:
		if _, err := tc.HandleExpression(tExpr.Lhs); err != nil {
			return DataType{}, err
		}
		if _, err := tc.HandleExpression(tExpr.Rhs); err != nil {
			return DataType{}, err
		}
		switch tExpr.Type {
		case Equal, LessThan, GreatThan, BoolOr, BoolAnd, BoolNot:
			return DataType{Main: Bool}, nil
		default:
			return DataType{Main: Int}, nil
		}

	case FuncCallExpr:
		for _, arg := range tExpr.Arguments {
			if _, err := tc.HandleExpression(arg); err != nil {
				return DataType{}, fmt.Errorf("error handling call argument: %w", err)
			}
		}
		return tc.resolveCallReturn(tExpr)

	default:
		return DataType{}, fmt.Errorf("unrecognized expression: %T", expr)
	}
}

// Resolves the subroutine a call expression targets (instance-local, through a variable, or
// a fully-qualified class reference) and returns its declared return type.
func (tc *TypeChecker) resolveCallReturn(call FuncCallExpr) (DataType, error) {
	if !call.IsExtCall {
		className := tc.scopes.GetScope()
		if idx := indexOfDot(className); idx >= 0 {
			className = className[:idx]
		}
		class, exists := tc.program[className]
		if !exists {
			return DataType{}, fmt.Errorf("class definition not found for '%s'", className)
		}
		routine, exists := class.Subroutines.Get(call.FuncName)
		if !exists {
			return DataType{}, fmt.Errorf("subroutine '%s' not found in class '%s'", call.FuncName, className)
		}
		return routine.Return, nil
	}

	if _, variable, err := tc.scopes.ResolveVariable(call.Var); err == nil {
		class, exists := tc.program[variable.DataType.Subtype]
		if !exists {
			return DataType{}, fmt.Errorf("class definition not found for '%s'", variable.DataType.Subtype)
		}
		routine, exists := class.Subroutines.Get(call.FuncName)
		if !exists {
			return DataType{}, fmt.Errorf("subroutine '%s' not found in class '%s'", call.FuncName, class.Name)
		}
		return routine.Return, nil
	}

	class, exists := tc.program[call.Var]
	if !exists {
		return DataType{}, fmt.Errorf("unrecognized function call target '%s'", call.Var)
	}
	routine, exists := class.Subroutines.Get(call.FuncName)
	if !exists {
		return DataType{}, fmt.Errorf("subroutine '%s' not found in class '%s'", call.FuncName, class.Name)
	}
	return routine.Return, nil
}

func indexOfDot(s string) int {
	for i, c := range s {
		if c == '.' {
			return i
		}
	}
	return -1
}
