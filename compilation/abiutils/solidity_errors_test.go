package abiutils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetRevertReason ensures Panic and Error revert data are decoded and anything else is rejected.
func TestGetRevertReason(t *testing.T) {
	panicData, err := panicMethod.Inputs.Pack(big.NewInt(PanicCodeDivideByZero))
	require.NoError(t, err)
	reason, ok := GetRevertReason(append(append([]byte{}, panicMethod.ID...), panicData...))
	assert.True(t, ok)
	assert.Equal(t, "panic: division by zero", reason)

	errorData, err := errorMethod.Inputs.Pack("caller is not the owner")
	require.NoError(t, err)
	reason, ok = GetRevertReason(append(append([]byte{}, errorMethod.ID...), errorData...))
	assert.True(t, ok)
	assert.Equal(t, "error: caller is not the owner", reason)

	_, ok = GetRevertReason(nil)
	assert.False(t, ok)
	_, ok = GetRevertReason([]byte{0xde, 0xad, 0xbe, 0xef, 0x00})
	assert.False(t, ok)
	assert.Equal(t, "unknown panic code(153)", GetPanicReason(0x99))
}
