package embedding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckInput(t *testing.T) {
	require.ErrorIs(t, CheckInput(""), ErrUnavailable)
	require.ErrorIs(t, CheckInput(" \n\t"), ErrUnavailable)
	require.NoError(t, CheckInput("hello"))
}

func TestUnavailable_WrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Unavailable(cause)
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, cause)
	require.Equal(t, ErrUnavailable, Unavailable(nil))
}
