//go:build unix

package handler

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup 让 CGI 程序运行在独立的进程组中
// 终止时向整个进程组发送 SIGKILL, 由它派生的进程一起结束
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
