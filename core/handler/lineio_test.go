package handler

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("GET / HTTP/1.0\r\nHost: a\n\r\n"))
	for _, want := range []string{"GET / HTTP/1.0\r\n", "Host: a\n", "\r\n"} {
		got, err := ReadLine(r, DefaultMaxLine)
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		ExpectEqual(t, want, got)
	}
	if _, err := ReadLine(r, DefaultMaxLine); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReadLineSpansBuffer(t *testing.T) {
	line := strings.Repeat("x", 100) + "\r\n"
	r := bufio.NewReaderSize(strings.NewReader(line), 16)
	got, err := ReadLine(r, 128)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	ExpectEqual(t, line, got)
}

func TestReadLineTooLong(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader(strings.Repeat("x", 100)+"\r\n"), 16)
	if _, err := ReadLine(r, 64); !errors.Is(err, ErrLineTooLong) {
		t.Errorf("expected ErrLineTooLong, got %v", err)
	}
}

func TestReadLinePartialAtEOF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("GET / HTTP/1.0"))
	got, err := ReadLine(r, DefaultMaxLine)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	ExpectEqual(t, "GET / HTTP/1.0", got)
}
