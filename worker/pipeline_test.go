package worker

import (
	"testing"

	elytra "github.com/go-elytra/elytra"
	"github.com/stretchr/testify/require"
)

func floats(values ...float64) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func TestApplyPipelineMap(t *testing.T) {
	result, err := ApplyPipeline(floats(1, 2, 3), []elytra.Operation{elytra.Map("(x)=>x*x")})
	require.Nil(t, err)
	require.Equal(t, []interface{}{int64(1), int64(4), int64(9)}, result)
}

func TestApplyPipelineFilterThenCount(t *testing.T) {
	result, err := ApplyPipeline(floats(1, 2, 3, 4, 5), []elytra.Operation{
		elytra.Filter("(x)=>x%2===0"),
		elytra.Count(),
	})
	require.Nil(t, err)
	require.Equal(t, int64(2), result)
}

func TestApplyPipelineReduce(t *testing.T) {
	result, err := ApplyPipeline(floats(1, 2, 3), []elytra.Operation{
		elytra.Map("(x)=>x*2"),
		elytra.Reduce("(a,b)=>a+b", 0),
	})
	require.Nil(t, err)
	require.Equal(t, int64(12), result)
}

func TestApplyPipelineCountEmptyStream(t *testing.T) {
	result, err := ApplyPipeline(floats(1, 2, 3), []elytra.Operation{
		elytra.Filter("(x)=>x>100"),
		elytra.Count(),
	})
	require.Nil(t, err)
	require.Equal(t, int64(0), result)
}

func TestApplyPipelineOnRecords(t *testing.T) {
	values := []interface{}{
		map[string]interface{}{"fare": 10.0, "tip": 1.0},
		map[string]interface{}{"fare": 20.0, "tip": 5.0},
	}
	result, err := ApplyPipeline(values, []elytra.Operation{
		elytra.Map("(row)=>row.fare + row.tip"),
		elytra.Reduce("(a,b)=>a+b", 0),
	})
	require.Nil(t, err)
	require.Equal(t, int64(36), result)
}

func TestApplyPipelineRejectsBrokenBody(t *testing.T) {
	_, err := ApplyPipeline(floats(1), []elytra.Operation{elytra.Map("((nope")})
	require.NotNil(t, err)
}

func TestApplyPipelineRejectsEmptyPipeline(t *testing.T) {
	_, err := ApplyPipeline(floats(1), nil)
	require.NotNil(t, err)
}
