package dualstack

import (
	"context"
	"net"
	"net/http"
	"sync"
)

// trackingListener registers every accepted connection with its owner.
type trackingListener struct {
	net.Listener
	owner *Listener
	stack Stack
}

func (tl *trackingListener) Accept() (net.Conn, error) {
	c, err := tl.Listener.Accept()
	if err != nil {
		return nil, err
	}
	tc := &trackedConn{Conn: c, owner: tl.owner, stack: tl.stack}
	tl.owner.register(tc)
	return tc, nil
}

// trackedConn removes itself from the registry on its first Close, whether
// the close came from the peer side of net/http or from Listener.Close.
type trackedConn struct {
	net.Conn
	owner *Listener
	stack Stack
	once  sync.Once
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.owner.unregister(c) })
	return err
}

// CloseWrite half-closes the wrapped connection when it supports it, so
// net/http can flush a final response before closing.
func (c *trackedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Stack returns the stack the connection was accepted on.
func (c *trackedConn) Stack() Stack { return c.stack }

type connContextKey struct{}

// ContextWithConn attaches the underlying connection to ctx.
func ContextWithConn(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connContextKey{}, c)
}

// ConnFromContext returns the connection a request arrived on, if known.
func ConnFromContext(ctx context.Context) net.Conn {
	c, _ := ctx.Value(connContextKey{}).(net.Conn)
	return c
}

// Destroy abruptly terminates the connection that carried r without writing
// a response. It prefers the connection recorded in the request context,
// then hijacking, and finally aborts the handler so net/http drops the
// connection itself.
func Destroy(w http.ResponseWriter, r *http.Request) {
	if c := ConnFromContext(r.Context()); c != nil {
		c.Close()
		return
	}
	if hj, ok := w.(http.Hijacker); ok {
		if c, _, err := hj.Hijack(); err == nil {
			c.Close()
			return
		}
	}
	panic(http.ErrAbortHandler)
}
