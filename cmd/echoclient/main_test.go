package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/Singert/tinyhttpd/core/handler"
)

// echoServer 把收到的每一行原样写回
func echoServer(t *testing.T, conn net.Conn, lines int) {
	t.Helper()
	go func() {
		defer conn.Close()
		r := bufio.NewReader(conn)
		for i := 0; i < lines; i++ {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if _, err := io.WriteString(conn, line); err != nil {
				return
			}
		}
	}()
}

func TestEcho(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	echoServer(t, server, 3)

	var out bytes.Buffer
	in := strings.NewReader("hello\nworld\r\nlast\n")
	if err := Echo(in, &out, client, handler.DefaultMaxLine); err != nil {
		t.Fatalf("Echo: %v", err)
	}
	if got, want := out.String(), "hello\nworld\r\nlast\n"; got != want {
		t.Errorf("Got %q, want %q", got, want)
	}
}

func TestEchoServerClosed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	// 回显第一行, 读到第二行后不回复直接关闭
	go func() {
		defer server.Close()
		r := bufio.NewReader(server)
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		io.WriteString(server, line)
		r.ReadString('\n')
	}()

	var out bytes.Buffer
	if err := Echo(strings.NewReader("one\ntwo\n"), &out, client, handler.DefaultMaxLine); err != nil {
		t.Fatalf("Echo: %v", err)
	}
	if got := out.String(); got != "one\n" {
		t.Errorf("Got %q", got)
	}
}

func TestEchoLineTooLong(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var out bytes.Buffer
	in := strings.NewReader(strings.Repeat("x", 64) + "\n")
	if err := Echo(in, &out, client, 16); !errors.Is(err, handler.ErrLineTooLong) {
		t.Errorf("expected ErrLineTooLong, got %v", err)
	}
}
