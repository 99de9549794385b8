package cluster

import (
	"encoding/json"
	"fmt"

	elytra "github.com/go-elytra/elytra"
	"github.com/go-elytra/elytra/internal/jsfunc"
)

// mergePartials combines per-chunk partial results into the job result,
// dispatching on the kind of the pipeline's terminal operation:
//
//	count  - numeric sum of all partials
//	reduce - fold partials with the supplied reducer from its initial value
//	other  - concatenation of partials into a single flat sequence
//
// Partials are always consumed in chunkId order, regardless of arrival
// order. Pure CPU; never blocks on I/O.
func mergePartials(ops []elytra.Operation, partials []json.RawMessage) (interface{}, error) {
	terminal, ok := elytra.Terminal(ops)
	if !ok {
		return nil, fmt.Errorf("pipeline has no operations")
	}
	switch terminal.Kind {
	case elytra.OpCount:
		return mergeCount(partials)
	case elytra.OpReduce:
		return mergeReduce(terminal, partials)
	default:
		return mergeConcat(partials)
	}
}

func mergeCount(partials []json.RawMessage) (interface{}, error) {
	var total float64
	for chunkID, partial := range partials {
		var n float64
		if err := json.Unmarshal(partial, &n); err != nil {
			return nil, fmt.Errorf("chunk %d returned a non-numeric count: %w", chunkID, err)
		}
		total += n
	}
	return total, nil
}

func mergeReduce(terminal elytra.Operation, partials []json.RawMessage) (interface{}, error) {
	fn, err := jsfunc.Compile(terminal.Fn)
	if err != nil {
		return nil, err
	}
	acc := terminal.InitialValue
	for chunkID, partial := range partials {
		var value interface{}
		if err := json.Unmarshal(partial, &value); err != nil {
			return nil, fmt.Errorf("chunk %d returned an unparseable partial: %w", chunkID, err)
		}
		acc, err = fn.Call(acc, value)
		if err != nil {
			return nil, fmt.Errorf("reducer failed on chunk %d: %w", chunkID, err)
		}
	}
	return acc, nil
}

func mergeConcat(partials []json.RawMessage) (interface{}, error) {
	merged := make([]interface{}, 0, len(partials))
	for chunkID, partial := range partials {
		var value interface{}
		if err := json.Unmarshal(partial, &value); err != nil {
			return nil, fmt.Errorf("chunk %d returned an unparseable partial: %w", chunkID, err)
		}
		if seq, ok := value.([]interface{}); ok {
			merged = append(merged, seq...)
		} else {
			merged = append(merged, value)
		}
	}
	return merged, nil
}
