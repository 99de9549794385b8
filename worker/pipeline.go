package worker

import (
	"fmt"

	elytra "github.com/go-elytra/elytra"
	"github.com/go-elytra/elytra/internal/jsfunc"
)

// ApplyPipeline runs a chunk's values through the pipeline and returns
// the partial result: the count for a terminal count, the accumulator for
// a terminal reduce, the surviving value sequence otherwise.
func ApplyPipeline(values []interface{}, ops []elytra.Operation) (interface{}, error) {
	if err := elytra.ValidateOps(ops); err != nil {
		return nil, err
	}
	cur := values
	for i, op := range ops {
		var err error
		cur, err = applyOp(cur, op)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, op.Kind, err)
		}
	}
	terminal, _ := elytra.Terminal(ops)
	if terminal.Kind == elytra.OpCount || terminal.Kind == elytra.OpReduce {
		// count and reduce collapse the stream to a single value
		return cur[0], nil
	}
	return cur, nil
}

func applyOp(values []interface{}, op elytra.Operation) ([]interface{}, error) {
	switch op.Kind {
	case elytra.OpMap:
		fn, err := jsfunc.Compile(op.Fn)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, len(values))
		for i, v := range values {
			out[i], err = fn.Call(v)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case elytra.OpFilter:
		fn, err := jsfunc.Compile(op.Fn)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(values))
		for _, v := range values {
			keep, err := fn.CallBool(v)
			if err != nil {
				return nil, err
			}
			if keep {
				out = append(out, v)
			}
		}
		return out, nil
	case elytra.OpCount:
		return []interface{}{int64(len(values))}, nil
	case elytra.OpReduce:
		fn, err := jsfunc.Compile(op.Fn)
		if err != nil {
			return nil, err
		}
		acc := op.InitialValue
		for _, v := range values {
			acc, err = fn.Call(acc, v)
			if err != nil {
				return nil, err
			}
		}
		return []interface{}{acc}, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}
