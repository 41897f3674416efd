package connutil

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastUsageConn(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	luc := NewLastUsageConn(a)
	assert.True(t, luc.LastUsage().IsZero())
	go func() {
		_, _ = io.ReadFull(b, make([]byte, 3))
	}()
	_, err := luc.Write([]byte("abc"))
	require.NoError(t, err)
	assert.False(t, luc.LastUsage().IsZero())
}

func TestTimeoutConn(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	tc := NewTimeout(a, 50*time.Millisecond)
	// nobody reads from b
	_, err := tc.Write([]byte("abc"))
	require.Error(t, err)
	_, err = a.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
