package handler

import (
	"bufio"
	"errors"
	"io"
)

// DefaultMaxLine 请求行与请求头行的默认长度上限
const DefaultMaxLine = 8192

// ErrLineTooLong 行超过上限, 对该连接是致命错误
var ErrLineTooLong = errors.New("line exceeds maximum length")

// ReadLine 读取一行, 包含结尾的 \r\n 或 \n, 总长度不超过 max 字节
// 连接在行中途关闭时返回已读到的部分; 什么也没读到时返回 io.EOF
func ReadLine(r *bufio.Reader, max int) (string, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > max {
			return "", ErrLineTooLong
		}
		switch {
		case err == nil:
			return string(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return string(line), nil
		default:
			return "", err
		}
	}
}

// isBlankLine 报告该行是否为结束请求头的空行
func isBlankLine(line string) bool {
	return line == "\r\n" || line == "\n"
}
