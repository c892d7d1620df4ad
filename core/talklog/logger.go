package talklog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/Singert/tinyhttpd/core/utils"
)

var (
	logConfig  LogConfig
	fileHandle *os.File
	logLock    sync.Mutex
	output     io.Writer = os.Stdout
)
var (
	prefixLock sync.RWMutex
	logPrefix  map[uint64]string = make(map[uint64]string)
)

// 匹配 ANSI 转义序列
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// InitLogConfig 应用日志配置, 需要时打开日志文件
func InitLogConfig(lgcfg *LogConfig) error {
	logLock.Lock()
	defer logLock.Unlock()

	logConfig = *lgcfg
	if fileHandle != nil {
		fileHandle.Close()
		fileHandle = nil
	}
	if !logConfig.LogToFile {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(logConfig.FilePath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logConfig.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	fileHandle = f
	return nil
}

// SetOutput 替换控制台输出目标, 返回旧的目标
func SetOutput(w io.Writer) io.Writer {
	logLock.Lock()
	defer logLock.Unlock()
	old := output
	output = w
	return old
}

// GID returns the goroutine ID of the current goroutine.
// This is a workaround for the lack of a built-in way to get the goroutine ID in Go.
// It is primarily intended for tagging log lines and should not be relied on otherwise.
func GID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	var id uint64
	fmt.Sscanf(string(b), "goroutine %d ", &id)
	return id
}

func SetPrefix(gid uint64, prefix string) {
	prefixLock.Lock()
	defer prefixLock.Unlock()
	if prefix == "" {
		delete(logPrefix, gid)
		return
	}
	logPrefix[gid] = prefix
}

func logLine(color, level string, gid uint64, format string, a ...any) {
	logLock.Lock()
	defer logLock.Unlock()

	msg := fmt.Sprintf(format, a...)
	prefix := ""
	if logConfig.WithTime {
		prefix = fmt.Sprintf("[%s] ", time.Now().Format("2006-01-02 15:04:05"))
	}
	// 只为等级上色
	coloredLevel := fmt.Sprintf("%s[%s]%s", color, level, ColorReset)

	prefixLock.RLock()
	p := logPrefix[gid]
	prefixLock.RUnlock()
	modPrefix := ""
	if p != "" {
		modPrefix = fmt.Sprintf("[%s] ", p)
	}

	// 最终格式：时间戳 + 彩色等级 + 模块 + GID + 正文
	line := fmt.Sprintf("%s%s %s[GID:%d] %s", prefix, coloredLevel, modPrefix, gid, msg)

	fmt.Fprintln(output, line)
	if logConfig.LogToFile && fileHandle != nil {
		fileHandle.WriteString(stripANSI(line) + "\n")
	}
}

// stripANSI removes ANSI color escape codes from a string.
func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

func Boot(gid uint64, format string, a ...any) {
	logLine(ColorCyan, "BOOT", gid, format, a...)
}

func BootDone(duration time.Duration) {
	gid := GID()
	secs := float64(duration.Microseconds()) / 1e6
	logLine(ColorCyan, "BOOT", gid, "服务器启动完成，用时 %.6f 秒", secs)
}

func Info(gid uint64, format string, a ...any) {
	logLine(ColorGreen, "INFO", gid, format, a...)
}

func Warn(gid uint64, format string, a ...any) {
	logLine(ColorYellow, "WARN", gid, format, a...)
}

func Error(gid uint64, format string, a ...any) {
	logLine(ColorRed, "ERROR", gid, format, a...)
}

func Req(gid uint64, method, uri, proto string) {
	logLine(ColorCyan, "REQ", gid, "%s %s %s", method, uri, proto)
}

func Hdr(gid uint64, key, value string) {
	logLine(ColorCyan, "HDR", gid, "%s: %s", key, strings.TrimSpace(value))
}

func Resp(gid uint64, status utils.HTTPStatus) {
	logLine(ColorCyan, "RESP", gid, "%d %s", int(status), utils.ShortMessage(status))
}
