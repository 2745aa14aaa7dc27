package reactor

import (
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driveFor pumps non-blocking dispatch iterations until deadline or
// cond reports true, sleeping briefly between empty passes so the
// loop doesn't spin the CPU waiting on real socket I/O.
func driveFor(t *testing.T, r *Reactor, deadline time.Duration, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		_, err := r.Dispatch(DispatchNonBlocking)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition did not become true before deadline")
}

func TestBufferedSocketEchoOverLoopback(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	var mu sync.Mutex
	var server *BufferedSocket

	l, err := NewListener(r, "127.0.0.1:0", 16, func(lst *Listener, fd int, peer net.Addr) {
		mu.Lock()
		defer mu.Unlock()
		server, _ = NewBufferedSocket(r, fd, BevOptCloseOnFree)
		server.SetCB(func(bs *BufferedSocket, arg any) {
			buf := make([]byte, 4096)
			n, _ := bs.Read(buf)
			if n > 0 {
				bs.Write(buf[:n])
			}
		}, nil, nil, nil)
		server.Enable(EvRead)
	})
	require.NoError(t, err)
	require.NoError(t, l.Start())
	addr, err := l.Addr()
	require.NoError(t, err)

	client, err := NewBufferedSocket(r, -1, 0)
	require.NoError(t, err)
	var connected bool
	var reply []byte
	client.SetCB(func(bs *BufferedSocket, arg any) {
		buf := make([]byte, 4096)
		n, _ := bs.Read(buf)
		reply = append(reply, buf[:n]...)
	}, nil, func(bs *BufferedSocket, what BevEvent, errno error, arg any) {
		if what&BevEventConnected != 0 {
			mu.Lock()
			connected = true
			mu.Unlock()
		}
	}, nil)
	// Connect assigns the real socket fd to bs's events; only enable
	// reading once that fd exists.
	require.NoError(t, client.Connect(addr.String()))
	client.Enable(EvRead)

	driveFor(t, r, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connected
	})

	require.NoError(t, client.Write([]byte("ping")))
	driveFor(t, r, 2*time.Second, func() bool { return len(reply) == 4 })
	assert.Equal(t, "ping", string(reply))
}

func TestBufferedSocketWriteWatermarkSuspendsOnHighMark(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	bs, err := NewBufferedSocket(r, -1, 0)
	require.NoError(t, err)
	// fd -1 never becomes writable; this test only exercises the
	// watermark bookkeeping, not real socket I/O.
	bs.SetWatermark(EvWrite, 0, 16)

	require.NoError(t, bs.Write(make([]byte, 20)))
	bs.mu.Lock()
	suspended := bs.suspendWrite&SuspendWatermark != 0
	bs.mu.Unlock()
	assert.True(t, suspended)
}

// onReadable must withhold the readable callback until the input
// buffer reaches the configured low watermark (spec §4.5
// "Watermarks"), even though the underlying fd delivered data.
func TestBufferedSocketReadWatermarkLowGatesReadableCallback(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	bs, err := NewBufferedSocket(r, int(pr.Fd()), 0)
	require.NoError(t, err)
	bs.SetWatermark(EvRead, 10, 0)

	var readable int
	bs.SetCB(func(*BufferedSocket, any) { readable++ }, nil, nil, nil)

	_, err = pw.Write([]byte("abc"))
	require.NoError(t, err)
	bs.onReadable(int(pr.Fd()), EvRead, bs)
	assert.Equal(t, 0, readable, "3 bytes is below the configured low watermark of 10")
	assert.Equal(t, 3, bs.input.GetLength())

	_, err = pw.Write([]byte("defghijklmn"))
	require.NoError(t, err)
	bs.onReadable(int(pr.Fd()), EvRead, bs)
	assert.Equal(t, 1, readable)
}
