package rclient

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/xenking/respool/resp"
)

// fakeServer is a minimal RESP responder good enough to exercise the
// client end to end: PING -> +PONG, SET -> +OK, GET -> a null bulk
// unless the key was previously SET in this connection's lifetime,
// DEL -> the number of listed keys it removed.
func fakeServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn)
		}
	}()
	return ln.Addr().String()
}

func serveConn(nc net.Conn) {
	defer nc.Close()
	frames := resp.NewFrameReader(nc)
	store := map[string]string{}
	for {
		v, err := frames.Next()
		if err != nil {
			return
		}
		if v.Kind != resp.Array || len(v.Items) == 0 {
			continue
		}
		cmd := string(v.Items[0].Bulk)
		var reply resp.Value
		switch cmd {
		case "PING":
			reply = resp.SimpleStringValue("PONG")
		case "SET":
			store[string(v.Items[1].Bulk)] = string(v.Items[2].Bulk)
			reply = resp.SimpleStringValue("OK")
		case "GET":
			val, ok := store[string(v.Items[1].Bulk)]
			if !ok {
				reply = resp.NullBulk()
			} else {
				reply = resp.BulkValue([]byte(val))
			}
		case "DEL":
			var n int64
			for _, item := range v.Items[1:] {
				if _, ok := store[string(item.Bulk)]; ok {
					delete(store, string(item.Bulk))
					n++
				}
			}
			reply = resp.IntValue(n)
		default:
			reply = resp.ErrValue("ERR unknown command")
		}
		if _, err := nc.Write(resp.Encode(reply)); err != nil {
			return
		}
	}
}

func TestClientEndToEnd(t *testing.T) {
	addr := fakeServer(t)
	c := NewClient(Config{
		Addr:                   addr,
		MaximumConnectionCount: 2,
		MinimumConnectionCount: 1,
		InitialBackoffDelay:    10 * time.Millisecond,
		Registerer:             prometheus.NewRegistry(),
	})
	defer c.Close()

	require.NoError(t, c.Ping())

	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set("greeting", "hello"))

	v, ok, err := c.Get("greeting")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(v))

	n, err := c.Del("greeting")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, ok, err = c.Get("greeting")
	require.NoError(t, err)
	require.False(t, ok)
}
