package elytra

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateOps(t *testing.T) {
	require.NotNil(t, ValidateOps(nil))
	require.NotNil(t, ValidateOps([]Operation{{Kind: "shuffle"}}))
	require.NotNil(t, ValidateOps([]Operation{{Kind: OpMap}}))
	require.NotNil(t, ValidateOps([]Operation{{Kind: OpReduce}}))
	require.Nil(t, ValidateOps([]Operation{Map("(x)=>x"), Count()}))
	require.Nil(t, ValidateOps([]Operation{Filter("(x)=>x>1"), Reduce("(a,b)=>a+b", 0)}))
}

func TestTerminal(t *testing.T) {
	_, ok := Terminal(nil)
	require.False(t, ok)
	term, ok := Terminal([]Operation{Map("(x)=>x"), Count()})
	require.True(t, ok)
	require.Equal(t, OpCount, term.Kind)
}

func TestOperationWireShape(t *testing.T) {
	data, err := json.Marshal(Reduce("(a,b)=>a-b", 100))
	require.Nil(t, err)
	require.JSONEq(t, `{"op":"reduce","fn":"(a,b)=>a-b","initialValue":100}`, string(data))

	data, err = json.Marshal(Count())
	require.Nil(t, err)
	require.JSONEq(t, `{"op":"count"}`, string(data))
}
