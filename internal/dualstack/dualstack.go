// Package dualstack runs one HTTP server on an IPv4 socket and an IPv6 socket
// bound to the same port and presents the pair as a single logical server.
//
// Every event handler receives the Stack that raised the event. Open
// connections from both stacks are tracked in a registry owned by the
// Listener so that Close can tear them down.
package dualstack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"example.com/lanserve/internal/ipaddr"
	"example.com/lanserve/internal/util"
)

// Stack identifies one of the two sockets.
type Stack int

const (
	StackV4 Stack = iota
	StackV6
)

// Stacks lists both stacks in bind order.
var Stacks = [...]Stack{StackV4, StackV6}

// String returns "IPv4" or "IPv6".
func (s Stack) String() string { return s.Version().String() }

// Version returns the IP version served by the stack.
func (s Stack) Version() ipaddr.Version {
	if s == StackV6 {
		return ipaddr.V6
	}
	return ipaddr.V4
}

func (s Stack) network() string {
	if s == StackV6 {
		return "tcp6"
	}
	return "tcp4"
}

type (
	// RequestHandler serves one HTTP request received on stack.
	RequestHandler func(stack Stack, w http.ResponseWriter, r *http.Request)
	// ErrorHandler receives bind failures (*BindError) and runtime failures
	// (*ServerError) of a single stack.
	ErrorHandler func(stack Stack, err error)
	// ConnHandler observes a connection being accepted or closed.
	ConnHandler func(stack Stack, conn net.Conn)
)

// ListenFunc opens the socket for one stack.
type ListenFunc func(network, address string) (net.Listener, error)

// Option configures a Listener.
type Option func(*Listener)

// WithH2C enables HTTP/2 over cleartext alongside HTTP/1.1.
func WithH2C(enabled bool) Option {
	return func(l *Listener) { l.h2c = enabled }
}

// WithListenFunc replaces the function used to open sockets.
func WithListenFunc(fn ListenFunc) Option {
	return func(l *Listener) { l.listen = fn }
}

// WithErrorLog sets the logger net/http uses for connection level errors.
func WithErrorLog(lg *log.Logger) Option {
	return func(l *Listener) { l.errorLog = lg }
}

// Listener is a dual-stack HTTP server.
type Listener struct {
	listen   ListenFunc
	h2c      bool
	errorLog *log.Logger

	mu        sync.Mutex
	stacks    [2]*stackServer
	conns     map[*trackedConn]struct{}
	listening bool

	onRequest    RequestHandler
	onError      ErrorHandler
	onConnection ConnHandler
	onClose      ConnHandler
}

type stackServer struct {
	id   Stack
	ln   net.Listener
	srv  *http.Server
	done chan struct{} // closed when Serve returns
}

// New creates an idle Listener. Handlers must be registered before Listen.
func New(opts ...Option) *Listener {
	l := &Listener{
		listen: util.CreateListener,
		conns:  make(map[*trackedConn]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnRequest registers the request handler for both stacks.
func (l *Listener) OnRequest(h RequestHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRequest = h
}

// OnError registers the error handler for both stacks.
func (l *Listener) OnError(h ErrorHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = h
}

// OnConnection registers a handler called for every accepted connection.
func (l *Listener) OnConnection(h ConnHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConnection = h
}

// OnClose registers a handler called when a tracked connection closes.
func (l *Listener) OnClose(h ConnHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onClose = h
}

// Listen binds both stacks on port and starts serving. v4Addr and v6Addr are
// the bind hosts; an empty host means all interfaces of that family.
//
// A stack that fails to bind is reported to the error handler as a
// *BindError while the other stack keeps serving. Listen returns a
// *ServerError only if neither stack could bind.
func (l *Listener) Listen(port int, v4Addr, v6Addr string) error {
	l.mu.Lock()
	if l.listening {
		l.mu.Unlock()
		return errors.New("dualstack: Listen called twice")
	}
	l.listening = true
	l.mu.Unlock()

	hosts := [2]string{v4Addr, v6Addr}
	var failures []*BindError
	for _, id := range Stacks {
		addr := net.JoinHostPort(hosts[id], strconv.Itoa(port))
		ln, err := l.listen(id.network(), addr)
		if err != nil {
			failures = append(failures, &BindError{Stack: id, Addr: addr, Err: err})
			continue
		}
		// An ephemeral port is picked by the first bind; the other stack
		// must share it.
		if port == 0 {
			if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
				port = tcp.Port
			}
		}
		st := l.newStackServer(id, ln)
		l.mu.Lock()
		l.stacks[id] = st
		l.mu.Unlock()
		go l.serve(st)
	}

	switch len(failures) {
	case 0:
		return nil
	case len(Stacks):
		return &ServerError{
			Stacks: []Stack{StackV4, StackV6},
			Err:    errors.Join(failures[0], failures[1]),
		}
	default:
		l.emitError(failures[0].Stack, failures[0])
		return nil
	}
}

func (l *Listener) newStackServer(id Stack, ln net.Listener) *stackServer {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.dispatch(id, w, r)
	})
	if l.h2c {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}
	return &stackServer{
		id: id,
		ln: &trackingListener{Listener: ln, owner: l, stack: id},
		srv: &http.Server{
			Handler:  handler,
			ErrorLog: l.errorLog,
			ConnContext: func(ctx context.Context, c net.Conn) context.Context {
				return ContextWithConn(ctx, c)
			},
		},
		done: make(chan struct{}),
	}
}

func (l *Listener) serve(st *stackServer) {
	defer close(st.done)
	err := st.srv.Serve(st.ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.emitError(st.id, &ServerError{Stacks: []Stack{st.id}, Err: err})
	}
}

func (l *Listener) dispatch(id Stack, w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	h := l.onRequest
	l.mu.Unlock()
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(id, w, r)
}

func (l *Listener) emitError(id Stack, err error) {
	l.mu.Lock()
	h := l.onError
	l.mu.Unlock()
	if h != nil {
		h(id, err)
	}
}

// Addr returns the bound address of a stack, or nil if it is not bound.
func (l *Listener) Addr(id Stack) net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st := l.stacks[id]; st != nil {
		return st.ln.Addr()
	}
	return nil
}

// Bound reports whether the stack has a socket.
func (l *Listener) Bound(id Stack) bool {
	return l.Addr(id) != nil
}

// ConnCount returns the number of tracked open connections on both stacks.
func (l *Listener) ConnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Close forcibly closes every tracked connection, then closes both stacks
// and calls callback once both have finished. A stack that never bound or
// was already closed counts as closed. callback may be nil. The returned
// Join can be waited on instead of passing a callback.
func (l *Listener) Close(callback func()) *util.Join {
	join := util.NewJoin(len(Stacks), callback)

	l.mu.Lock()
	conns := make([]*trackedConn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	stacks := l.stacks
	l.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	for _, st := range stacks {
		if st == nil {
			join.Done()
			continue
		}
		go func(st *stackServer) {
			// An error here means the stack was already closed.
			_ = st.srv.Close()
			<-st.done
			join.Done()
		}(st)
	}
	return join
}

func (l *Listener) register(c *trackedConn) {
	l.mu.Lock()
	l.conns[c] = struct{}{}
	h := l.onConnection
	l.mu.Unlock()
	if h != nil {
		h(c.stack, c)
	}
}

func (l *Listener) unregister(c *trackedConn) {
	l.mu.Lock()
	_, ok := l.conns[c]
	delete(l.conns, c)
	h := l.onClose
	l.mu.Unlock()
	if ok && h != nil {
		h(c.stack, c)
	}
}

// BindError reports that one stack could not bind its socket.
type BindError struct {
	Stack Stack
	Addr  string
	Err   error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s server failed to bind %s: %v", e.Stack, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ServerError is a listener level failure. Stacks names the stacks involved.
type ServerError struct {
	Stacks []Stack
	Err    error
}

func (e *ServerError) Error() string {
	names := make([]string, len(e.Stacks))
	for i, s := range e.Stacks {
		names[i] = s.String()
	}
	return fmt.Sprintf("server error (%v): %v", names, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }
