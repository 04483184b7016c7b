// Package testutil runs the lanserve binary as a child process for end to
// end tests.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// TestRequest describes one request made against a running server.
type TestRequest struct {
	Method  string
	Path    string
	Headers http.Header
}

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string)
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", m.ExpectedBody, body)
}

// StringContainsBodyMatcher checks if the body contains a specific substring.
type StringContainsBodyMatcher struct {
	Substring string
}

func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Contains(body, []byte(m.Substring)) {
		return true, ""
	}
	return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", m.Substring, body)
}

// ExpectedResponse models the expected outcome of a request.
type ExpectedResponse struct {
	StatusCode   int
	Headers      map[string]string
	AbsentHeader []string
	BodyMatcher  BodyMatcher
}

// ActualResponse stores what the server sent back.
type ActualResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Error      error
}

// Verify compares actual against expected and returns every mismatch.
func Verify(expected ExpectedResponse, actual ActualResponse) []string {
	if actual.Error != nil {
		return []string{fmt.Sprintf("request failed: %v", actual.Error)}
	}
	var problems []string
	if expected.StatusCode != 0 && expected.StatusCode != actual.StatusCode {
		problems = append(problems, fmt.Sprintf("status: expected %d, got %d", expected.StatusCode, actual.StatusCode))
	}
	for name, want := range expected.Headers {
		if got := actual.Headers.Get(name); got != want {
			problems = append(problems, fmt.Sprintf("header %s: expected %q, got %q", name, want, got))
		}
	}
	for _, name := range expected.AbsentHeader {
		if _, ok := actual.Headers[http.CanonicalHeaderKey(name)]; ok {
			problems = append(problems, fmt.Sprintf("header %s: expected absent, got %q", name, actual.Headers.Get(name)))
		}
	}
	if expected.BodyMatcher != nil {
		if ok, msg := expected.BodyMatcher.Match(actual.Body); !ok {
			problems = append(problems, msg)
		}
	}
	return problems
}

// GetFreePort asks the kernel for a free loopback port.
func GetFreePort() (int, error) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// logBuffer collects the child's output.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ServerInstance is a running lanserve process.
type ServerInstance struct {
	Cmd     *exec.Cmd
	Address string

	logs     *logBuffer
	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
	cancel   context.CancelFunc
	client   *http.Client
}

// Run executes the binary to completion and returns its exit code and
// combined output. It is meant for invocations that exit on their own.
func Run(binary string, timeout time.Duration, args ...string) (int, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, binary, args...)
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return 0, string(out), err
	}
	return cmd.ProcessState.ExitCode(), string(out), nil
}

// StartTestServer launches binary with args and waits until address accepts
// TCP connections.
func StartTestServer(binary, address string, args ...string) (*ServerInstance, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, binary, args...)
	logs := &logBuffer{}
	cmd.Stdout = logs
	cmd.Stderr = logs

	s := &ServerInstance{
		Cmd:     cmd,
		Address: address,
		logs:    logs,
		done:    make(chan struct{}),
		cancel:  cancel,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start server process %q: %w", binary, err)
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()

	deadline := time.Now().Add(10 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		select {
		case <-s.done:
			return nil, fmt.Errorf("server exited early (%v). Logs:\n%s", s.waitErr, logs.String())
		default:
		}
		conn, err := net.DialTimeout("tcp", address, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return s, nil
		}
		lastErr = err
		time.Sleep(100 * time.Millisecond)
	}
	s.Stop()
	return nil, fmt.Errorf("server not ready at %s: %v. Logs:\n%s", address, lastErr, logs.String())
}

// Do sends req to the server.
func (s *ServerInstance) Do(req TestRequest) ActualResponse {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hreq, err := http.NewRequest(method, "http://"+s.Address+req.Path, nil)
	if err != nil {
		return ActualResponse{Error: err}
	}
	for name, values := range req.Headers {
		for _, v := range values {
			hreq.Header.Add(name, v)
		}
	}
	resp, err := s.client.Do(hreq)
	if err != nil {
		return ActualResponse{Error: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return ActualResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body, Error: err}
}

// Logs returns everything the process has written so far.
func (s *ServerInstance) Logs() string { return s.logs.String() }

// Stop sends SIGINT and waits for the process to exit, killing it if it
// does not stop in time. It returns the exit code.
func (s *ServerInstance) Stop() int {
	s.stopOnce.Do(func() {
		if err := s.Cmd.Process.Signal(syscall.SIGINT); err == nil {
			select {
			case <-s.done:
				return
			case <-time.After(5 * time.Second):
			}
		}
		s.cancel()
		<-s.done
	})
	s.cancel()
	if s.Cmd.ProcessState == nil {
		return -1
	}
	return s.Cmd.ProcessState.ExitCode()
}

// LogContains reports whether every substring appears in the logs.
func (s *ServerInstance) LogContains(substrings ...string) (bool, string) {
	logs := s.Logs()
	for _, sub := range substrings {
		if !strings.Contains(logs, sub) {
			return false, sub
		}
	}
	return true, ""
}
