// adder 是一个最小的 CGI 程序: 从 QUERY_STRING 读取两个整数并返回它们的和
//
// 支持 "1&2" 和 "x=1&y=2" 两种写法, 编译到 <workdir>/cgi-bin/adder 即可访问
//
//	GET /cgi-bin/adder?1&2 HTTP/1.0
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var ErrBadQuery = errors.New("expected two integers separated by '&'")

func main() {
	qs, _ := os.LookupEnv("QUERY_STRING")
	if err := WriteResponse(os.Stdout, qs); err != nil {
		os.Exit(1)
	}
}

// ParseOperands 解析 "a&b" 或 "x=a&y=b"
func ParseOperands(query string) (int, int, error) {
	first, second, ok := strings.Cut(query, "&")
	if !ok {
		return 0, 0, ErrBadQuery
	}
	a, err := parseOperand(first)
	if err != nil {
		return 0, 0, err
	}
	b, err := parseOperand(second)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func parseOperand(s string) (int, error) {
	if _, v, ok := strings.Cut(s, "="); ok {
		s = v
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadQuery, s)
	}
	return n, nil
}

// WriteResponse 写出 CGI 头和 HTML 内容
func WriteResponse(w io.Writer, query string) error {
	var content string
	a, b, err := ParseOperands(query)
	if err != nil {
		content = fmt.Sprintf("Welcome to add.com: THE Internet addition portal.\r\n<p>Error: %s\r\n<p>Thanks for visiting!\r\n", err)
	} else {
		content = fmt.Sprintf("Welcome to add.com: THE Internet addition portal.\r\n<p>The answer is: %d + %d = %d\r\n<p>Thanks for visiting!\r\n", a, b, a+b)
	}

	_, werr := fmt.Fprintf(w, "Connection: close\r\nContent-length: %d\r\nContent-type: text/html\r\n\r\n%s", len(content), content)
	return werr
}
