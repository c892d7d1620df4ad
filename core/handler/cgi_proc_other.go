//go:build !unix

package handler

import "os/exec"

// 其他平台只终止 CGI 程序本身
func setProcessGroup(cmd *exec.Cmd) {}
