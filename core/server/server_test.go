package server

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Singert/tinyhttpd/core/config"
	"github.com/Singert/tinyhttpd/core/handler"
	"github.com/Singert/tinyhttpd/core/talklog"
)

func TestMain(m *testing.M) {
	talklog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func startTestServer(t *testing.T, root string) *HTTPServer {
	t.Helper()
	srv := NewHTTPServer("127.0.0.1:0")
	srv.Options = func() handler.Options { return handler.Options{Root: root} }
	if err := srv.ServerBind(); err != nil {
		t.Fatalf("ServerBind: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	t.Cleanup(func() {
		if err := srv.Shutdown(); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after Shutdown")
		}
	})
	return srv
}

func roundTrip(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := io.WriteString(conn, request); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(resp)
}

func TestServeStaticOverTCP(t *testing.T) {
	dir := t.TempDir()
	content := "<html>tiny</html>"
	if err := os.WriteFile(filepath.Join(dir, "home.html"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	srv := startTestServer(t, dir)
	addr := srv.Listener.Addr().String()

	expect := "HTTP/1.0 200 OK\r\n" +
		"Server: Tiny Web Server\r\n" +
		"Connection: close\r\n" +
		"Content-length: 17\r\n" +
		"Content-type: text/html\r\n" +
		"\r\n" + content
	first := roundTrip(t, addr, "GET /home.html HTTP/1.0\r\n\r\n")
	second := roundTrip(t, addr, "GET / HTTP/1.0\r\nHost: localhost\r\n\r\n")
	if first != expect {
		t.Errorf("Got %q, want %q", first, expect)
	}
	if second != first {
		t.Errorf("repeated request differs: %q", second)
	}
}

func TestServeErrorsKeepServerRunning(t *testing.T) {
	srv := startTestServer(t, t.TempDir())
	addr := srv.Listener.Addr().String()

	resp := roundTrip(t, addr, "POST / HTTP/1.0\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.0 501 Not implemented\r\n") {
		t.Errorf("unexpected response: %q", resp)
	}
	resp = roundTrip(t, addr, "GET /missing.html HTTP/1.0\r\n\r\n")
	if !strings.HasPrefix(resp, "HTTP/1.0 404 Not found\r\n") || !strings.Contains(resp, "./missing.html") {
		t.Errorf("unexpected response: %q", resp)
	}
}

func TestConnectionsAreServedOneAtATime(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("CGI tests need a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "cgi-bin", "slow")
	if err := os.MkdirAll(filepath.Dir(script), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 0.5\nprintf slow\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fast.txt"), []byte("fast"), 0644); err != nil {
		t.Fatal(err)
	}
	srv := startTestServer(t, dir)
	addr := srv.Listener.Addr().String()

	order := make(chan string, 2)
	go func() {
		resp := roundTrip(t, addr, "GET /cgi-bin/slow HTTP/1.0\r\n\r\n")
		order <- resp[strings.LastIndex(resp, "\r\n")+2:]
	}()
	time.Sleep(100 * time.Millisecond)
	go func() {
		resp := roundTrip(t, addr, "GET /fast.txt HTTP/1.0\r\n\r\n")
		order <- resp[strings.LastIndex(resp, "\r\n")+2:]
	}()

	if got := <-order; got != "slow" {
		t.Errorf("first completed response = %q, want slow", got)
	}
	if got := <-order; got != "fast" {
		t.Errorf("second completed response = %q, want fast", got)
	}
}

func TestShutdownStopsRunningCGI(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("CGI tests need a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "cgi-bin", "hang")
	if err := os.MkdirAll(filepath.Dir(script), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(script, []byte("#!/bin/sh\nprintf started\nsleep 10\n"), 0755); err != nil {
		t.Fatal(err)
	}

	srv := NewHTTPServer("127.0.0.1:0")
	srv.Options = func() handler.Options { return handler.Options{Root: dir} }
	if err := srv.ServerBind(); err != nil {
		t.Fatalf("ServerBind: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := io.WriteString(conn, "GET /cgi-bin/hang HTTP/1.0\r\n\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	// 等到 CGI 程序开始输出
	r := bufio.NewReader(conn)
	var got strings.Builder
	for !strings.HasSuffix(got.String(), "started") {
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("read: %v (got %q)", err, got.String())
		}
		got.WriteByte(b)
	}

	start := time.Now()
	if err := srv.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Shutdown waited %v for the CGI program", elapsed)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	// 事务结束后连接被关闭
	if _, err := io.ReadAll(r); err != nil {
		t.Errorf("read after shutdown: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("connection stayed open after shutdown")
	}
}

func TestShutdownBeforeServe(t *testing.T) {
	srv := NewHTTPServer("127.0.0.1:0")
	if err := srv.ServerBind(); err != nil {
		t.Fatalf("ServerBind: %v", err)
	}
	if err := srv.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve after Shutdown returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve kept running after Shutdown")
	}
}

func TestShutdownWaitsForServe(t *testing.T) {
	srv := NewHTTPServer("127.0.0.1:0")
	if err := srv.ServerBind(); err != nil {
		t.Fatalf("ServerBind: %v", err)
	}
	served := make(chan struct{})
	go func() {
		srv.Serve()
		close(served)
	}()
	// 无论 Serve 是否已开始, Shutdown 返回时它都已经退出或不会再接受连接
	if err := srv.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	select {
	case <-served:
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestListenAddr(t *testing.T) {
	var c config.Config
	c.Server.IPv4 = "127.0.0.1"
	c.Server.IPv6 = "::1"
	c.Server.Port = 8080
	if got := ListenAddr(c); got != "127.0.0.1:8080" {
		t.Errorf("ListenAddr = %q", got)
	}
	c.Server.IsDualStack = true
	if got := ListenAddr(c); got != "[::1]:8080" {
		t.Errorf("dual stack ListenAddr = %q", got)
	}
}
