// echoclient 逐行把标准输入发给服务器, 每发送一行就打印一行回复
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/Singert/tinyhttpd/core/handler"
)

func main() {
	prog := filepath.Base(os.Args[0])
	flags := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	maxLine := flags.IntP("max-line", "l", handler.DefaultMaxLine, "单行最大长度")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <host> <port>\n", prog)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if flags.NArg() != 2 {
		flags.Usage()
		os.Exit(1)
	}

	addr := net.JoinHostPort(flags.Arg(0), flags.Arg(1))
	fmt.Println("Connecting to", addr, "...")
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prog, err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Println("Connected!")

	if err := Echo(os.Stdin, os.Stdout, conn, *maxLine); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prog, err)
		os.Exit(1)
	}
}

// Echo 从 in 读取一行写入 conn, 再从 conn 读取一行写到 out, 直到 in 结束
// 服务器关闭连接时正常返回
func Echo(in io.Reader, out io.Writer, conn io.ReadWriter, maxLine int) error {
	stdin := bufio.NewReader(in)
	rconn := bufio.NewReader(conn)
	for {
		line, err := handler.ReadLine(stdin, maxLine)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := io.WriteString(conn, line); err != nil {
			return err
		}

		reply, err := handler.ReadLine(rconn, maxLine)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := io.WriteString(out, reply); err != nil {
			return err
		}
	}
}
