package evaluator

import "fmt"

// Env is a lexical scope: a flat variable map plus a parent pointer,
// mirroring the scope chain a real JS engine walks for identifier
// resolution.
type Env struct {
	vars   map[string]Value
	consts map[string]bool
	parent *Env
}

// NewEnv creates a root environment (no parent).
func NewEnv() *Env {
	return &Env{vars: map[string]Value{}, consts: map[string]bool{}}
}

// Child creates a nested scope.
func (e *Env) Child() *Env {
	return &Env{vars: map[string]Value{}, consts: map[string]bool{}, parent: e}
}

// Declare introduces a new binding in this scope (let/const/var all
// collapse to function/block scoping here; the guard already rejects
// redeclaration patterns that would make the difference observable).
func (e *Env) Declare(name string, v Value, isConst bool) {
	e.vars[name] = v
	if isConst {
		e.consts[name] = true
	}
}

// Get resolves name by walking the scope chain outward.
func (e *Env) Get(name string) (Value, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set assigns to an existing binding, walking outward to find the scope
// that declared it. Returns an error for assignment to a const or an
// undeclared name (the guard's NO_GLOBAL_ACCESS rule means undeclared
// assignment should never reach here for validated scripts, but the
// interpreter enforces it defensively).
func (e *Env) Set(name string, v Value) error {
	for s := e; s != nil; s = s.parent {
		if _, ok := s.vars[name]; ok {
			if s.consts[name] {
				return fmt.Errorf("assignment to constant variable %q", name)
			}
			s.vars[name] = v
			return nil
		}
	}
	return fmt.Errorf("assignment to undeclared identifier %q", name)
}
