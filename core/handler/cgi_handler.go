package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Singert/tinyhttpd/core/talklog"
	"github.com/Singert/tinyhttpd/core/utils"
)

// ServeDynamic 运行 CGI 程序, 将其标准输出作为响应体转发给客户端
// 子进程只额外得到 QUERY_STRING 一个环境变量, 处理器阻塞直到子进程退出
func (h *RequestHandler) ServeDynamic(ctx context.Context, target ResolvedTarget) error {
	gid := talklog.GID()
	talklog.SetPrefix(gid, "CGI")
	defer talklog.SetPrefix(gid, "HTTP")

	if h.opts.CGITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.CGITimeout)
		defer cancel()
	}

	scriptFile := h.executablePath(target.Filename)
	talklog.Info(gid, "CGI script request: %s", target.Filename)
	talklog.Info(gid, "CGI script executable: %s", scriptFile)

	cmd := exec.CommandContext(ctx, scriptFile)
	cmd.Dir = h.root
	cmd.Env = prepareCGIEnvironment(os.Environ(), target.CGIArgs)
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		talklog.Error(gid, "CGI stdout pipe: %v", err)
		return h.ClientError(target.Filename, utils.INTERNAL_SERVER_ERROR, "Internal server error", "Tiny couldn't run the CGI program")
	}
	// 响应头尚未写出, 启动失败仍可返回 500
	if err := cmd.Start(); err != nil {
		talklog.Error(gid, "CGI script start failed: %v", err)
		return h.ClientError(target.Filename, utils.INTERNAL_SERVER_ERROR, "Internal server error", "Tiny couldn't run the CGI program")
	}

	// 超时或关机时关闭读端, 子进程派生的进程仍持有写端时转发也能结束
	stop := context.AfterFunc(ctx, func() { stdout.Close() })

	h.SendResponseOnly(utils.OK, "")
	h.SendHeader("Server", h.ServerVersion)
	err = h.EndHeaders()
	if err == nil {
		err = h.WFile.Flush()
	}

	var n int64
	if err == nil {
		n, err = io.Copy(h.WFile, stdout)
		if err == nil {
			err = h.WFile.Flush()
		}
	}
	stop()
	if ctx.Err() != nil {
		// 读端被主动关闭, 不是转发失败
		err = h.WFile.Flush()
	}
	if err != nil {
		// 客户端已断开, 不再等待子进程写完
		cmd.Cancel()
	}

	waitErr := cmd.Wait()
	switch {
	case err != nil:
		talklog.Error(gid, "CGI output relay aborted after %d bytes: %v", n, err)
		return fmt.Errorf("relay %s: %w", target.Filename, err)
	case ctx.Err() != nil:
		talklog.Warn(gid, "CGI script %s killed: %v", target.Filename, ctx.Err())
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			talklog.Warn(gid, "CGI script %s exited with status %d", target.Filename, exitErr.ExitCode())
		} else {
			talklog.Warn(gid, "CGI script %s: %v", target.Filename, waitErr)
		}
	default:
		talklog.Info(gid, "CGI script finished successfully (%d 字节)", n)
	}
	return nil
}

// executablePath 返回 CGI 程序的绝对路径
func (h *RequestHandler) executablePath(filename string) string {
	return filepath.Join(h.root, filepath.FromSlash(filename))
}

// prepareCGIEnvironment 继承父进程环境, 并用请求参数覆盖 QUERY_STRING
// 只修改子进程的环境, 服务器自身的环境保持不变
func prepareCGIEnvironment(parent []string, cgiArgs string) []string {
	env := make([]string, 0, len(parent)+1)
	for _, envVar := range parent {
		if strings.HasPrefix(envVar, "QUERY_STRING=") {
			continue
		}
		env = append(env, envVar)
	}
	return append(env, "QUERY_STRING="+cgiArgs)
}
