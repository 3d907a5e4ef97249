package bulk

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vshell-go/vshell/internal/wire"
)

func tempChannelName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("vshell-test-%d-%d", time.Now().UnixNano(), rand.Int())
}

func TestOpenInitializesHeader(t *testing.T) {
	name := tempChannelName(t)
	c, err := Open(name, 4096)
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, wire.HeaderMagic, atomic.LoadUint32(c.u32(0)))
	require.Equal(t, wire.HeaderVersion, atomic.LoadUint32(c.u32(4)))
	require.Equal(t, uint64(4096), atomic.LoadUint64(c.u64(8)))
}

func TestWriteReadRoundTrip(t *testing.T) {
	name := tempChannelName(t)
	c, err := Open(name, 64)
	require.NoError(t, err)
	defer c.Close()

	payload := []byte{0x01, 0x02, 0x03}
	seq, err := c.Write(AToB, payload, time.Second)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	out := make([]byte, 16)
	n, required, err := c.Read(AToB, out, time.Second)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 3, required)
	require.Equal(t, payload, out[:n])
	require.Equal(t, uint64(1), c.lastConsumedSeq[AToB])
}

func TestReadProbeReportsLengthWithoutConsuming(t *testing.T) {
	name := tempChannelName(t)
	c, err := Open(name, 64)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write(BToA, []byte("hello"), time.Second)
	require.NoError(t, err)

	n, required, err := c.Read(BToA, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 5, required)
	require.Equal(t, uint64(0), c.lastConsumedSeq[BToA], "probe must not consume the sequence")

	out := make([]byte, 5)
	n, _, err = c.Read(BToA, out, time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out[:n]))
}

func TestReadBufferTooSmallReportsRequiredLength(t *testing.T) {
	name := tempChannelName(t)
	c, err := Open(name, 64)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write(AToB, []byte("0123456789"), time.Second)
	require.NoError(t, err)

	out := make([]byte, 3)
	n, required, err := c.Read(AToB, out, time.Second)
	require.Error(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 10, required)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, StatusBufferTooSmall, statusErr.Status)
}

func TestWriteRejectsOversizedPayload(t *testing.T) {
	name := tempChannelName(t)
	c, err := Open(name, 8)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write(AToB, make([]byte, 9), time.Second)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, StatusInvalidArg, statusErr.Status)
}

func TestReadWouldBlockOnZeroTimeout(t *testing.T) {
	name := tempChannelName(t)
	c, err := Open(name, 64)
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.Read(AToB, make([]byte, 16), 0)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, StatusWouldBlock, statusErr.Status)
}

func TestOpenIncompatibleFrameBytes(t *testing.T) {
	name := tempChannelName(t)
	c1, err := Open(name, 64)
	require.NoError(t, err)
	defer c1.Close()

	c2, err := Open(name, 128)
	require.Error(t, err)
	require.Nil(t, c2)
	require.ErrorIs(t, err, ErrIncompatible)
}

func TestChunkedTransferRoundTrip(t *testing.T) {
	name := tempChannelName(t)
	c, err := Open(name, 32)
	require.NoError(t, err)
	defer c.Close()

	payload := make([]byte, 32*3+7)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.WriteChunked(AToB, payload, 32, 2*time.Second)
	}()

	got, err := c.ReadChunked(AToB, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, payload, got)
}
