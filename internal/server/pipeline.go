package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"

	"example.com/lanserve/internal/dualstack"
	"example.com/lanserve/internal/gate"
	"example.com/lanserve/internal/logger"
	"example.com/lanserve/internal/metrics"
	"example.com/lanserve/internal/render"
	"example.com/lanserve/internal/resolver"
	"example.com/lanserve/internal/util"
)

// ServeStack handles one request received on stack. The access record is
// logged before anything is written. Requests from outside the local
// network get no response at all; their connection is destroyed.
func (s *Server) ServeStack(stack dualstack.Stack, w http.ResponseWriter, r *http.Request) {
	defer s.recoverPanic(stack, r)

	raw := r.URL.EscapedPath()
	normalized, _ := resolver.Normalize(raw)
	rec := &logger.AccessRecord{
		Time:     time.Now(),
		Stack:    stack.String(),
		Method:   r.Method,
		Remote:   r.RemoteAddr,
		Local:    localEndpoint(r),
		Path:     "/" + normalized,
		Original: r.RequestURI,
	}

	if d := gate.Evaluate(r.RemoteAddr); !d.Allowed {
		rec.Rejected = string(d.Reason)
		s.log.Access(rec)
		s.metrics.Request(stack.String(), metrics.OutcomeRejected)
		dualstack.Destroy(w, r)
		return
	}

	res := s.resolver.Resolve(raw)
	resp := s.renderer.Prepare(res)
	rec.Status = resp.Status
	rec.Headers = render.HeaderLines(resp.Fields())
	rec.Err = resp.Cause
	if resp.Status == http.StatusOK && res.Kind != resolver.DirectoryListing {
		rec.Size = humanize.Bytes(uint64(resp.Size))
	}
	s.log.Access(rec)

	n, err := resp.Write(w)
	s.metrics.Request(stack.String(), outcomeOf(res, resp))
	s.metrics.Bytes(stack.String(), n)
	if err != nil {
		s.log.Debug("Response interrupted", logger.LogFields{
			"stack":       stack.String(),
			"path":        rec.Path,
			"written":     n,
			"error":       err.Error(),
			"peer_closed": util.IsClosedConn(err),
		})
	}
}

func outcomeOf(res *resolver.Resolved, resp *render.Response) metrics.Outcome {
	switch {
	case resp.Status == http.StatusNotFound:
		return metrics.OutcomeNotFound
	case res.Kind == resolver.DirectoryListing:
		return metrics.OutcomeListing
	default:
		return metrics.OutcomeFile
	}
}

// localEndpoint returns the address the request was received on.
func localEndpoint(r *http.Request) string {
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok && addr != nil {
		return addr.String()
	}
	return ""
}

// recoverPanic turns a panic in request handling into a fatal RuntimeFault.
// The handler is then aborted so net/http drops the connection.
func (s *Server) recoverPanic(stack dualstack.Stack, r *http.Request) {
	v := recover()
	if v == nil {
		return
	}
	if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
		panic(v)
	}
	fault := &RuntimeFault{Stack: stack, Value: v, Trace: debug.Stack()}
	s.log.Error("Uncaught exception", logger.LogFields{
		"stack":       stack.String(),
		"path":        r.URL.Path,
		"type":        fmt.Sprintf("%T", v),
		"error":       fmt.Sprint(v),
		"stack_trace": string(fault.Trace),
	})
	s.fail(fault)
	panic(http.ErrAbortHandler)
}
