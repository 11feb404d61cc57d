package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpError(t *testing.T) {
	require.NoError(t, Op("read", "/dev/mmc0", nil))

	err := Op("read", "/dev/mmc0", fmt.Errorf("%w: %w", ErrReadFailed, io.ErrUnexpectedEOF))
	require.True(t, errors.Is(err, ErrReadFailed))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	require.Equal(t, "read /dev/mmc0: read failed: unexpected EOF", err.Error())

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, "/dev/mmc0", opErr.Device)
}
