// Package jsfunc evaluates the serialized ECMAScript function bodies
// carried by pipeline operations. A compiled Func is bound to a single
// goja runtime and is not safe for concurrent calls.
package jsfunc

import (
	"fmt"

	"github.com/dop251/goja"
)

// Func is a compiled function body ready for repeated application
type Func struct {
	vm *goja.Runtime
	fn goja.Callable
}

// Compile evaluates a serialized function body such as "(a,b)=>a-b" or
// "function(x){return x*2}" and returns a callable wrapper
func Compile(body string) (*Func, error) {
	vm := goja.New()
	v, err := vm.RunString("(" + body + ")")
	if err != nil {
		return nil, fmt.Errorf("compile function body: %w", err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("function body did not evaluate to a function")
	}
	return &Func{vm: vm, fn: fn}, nil
}

// Call applies the function to the given values and exports the result as
// a plain Go value
func (f *Func) Call(args ...interface{}) (interface{}, error) {
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = f.vm.ToValue(a)
	}
	res, err := f.fn(goja.Undefined(), vals...)
	if err != nil {
		return nil, fmt.Errorf("apply function: %w", err)
	}
	return res.Export(), nil
}

// CallBool applies the function and coerces the result to a boolean,
// following ECMAScript truthiness
func (f *Func) CallBool(args ...interface{}) (bool, error) {
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = f.vm.ToValue(a)
	}
	res, err := f.fn(goja.Undefined(), vals...)
	if err != nil {
		return false, fmt.Errorf("apply predicate: %w", err)
	}
	return res.ToBoolean(), nil
}
