package handler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Singert/tinyhttpd/core/talklog"
	"github.com/Singert/tinyhttpd/core/utils"
)

// 按顺序检查, 第一个匹配的子串生效
var fileTypes = []struct {
	ext      string
	mimeType string
}{
	{".html", "text/html"},
	{".gif", "image/gif"},
	{".png", "image/png"},
	{".jpg", "image/jpeg"},
	{".mp4", "video/mp4"},
}

// GetFileType 根据文件名推断内容类型
// 扩展名子串出现在文件名任意位置都算匹配, 不只是结尾
func GetFileType(filename string) string {
	for _, ft := range fileTypes {
		if strings.Contains(filename, ft.ext) {
			return ft.mimeType
		}
	}
	return "text/plain"
}

// ServeStatic 发送静态文件, 响应体与文件内容逐字节一致
func (h *RequestHandler) ServeStatic(target ResolvedTarget, filesize int64) error {
	gid := talklog.GID()

	f, err := h.fs.Open(target.Filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return h.ClientError(target.Filename, utils.NOT_FOUND, "Not found", "Tiny couldn't find this file")
		}
		return h.ClientError(target.Filename, utils.FORBIDDEN, "Forbidden", "Tiny couldn't read the file")
	}
	defer f.Close()

	h.SendResponseOnly(utils.OK, "")
	h.SendHeader("Server", h.ServerVersion)
	h.SendHeader("Connection", "close")
	h.SendHeader("Content-length", strconv.FormatInt(filesize, 10))
	h.SendHeader("Content-type", GetFileType(target.Filename))
	if err := h.EndHeaders(); err != nil {
		return fmt.Errorf("send %s: %w", target.Filename, err)
	}

	n, err := io.CopyN(h.WFile, f, filesize)
	if err != nil {
		return fmt.Errorf("send %s: %d of %d bytes written: %w", target.Filename, n, filesize, err)
	}
	if err := h.WFile.Flush(); err != nil {
		return fmt.Errorf("send %s: %w", target.Filename, err)
	}
	talklog.Info(gid, "已发送 %s (%d 字节)", target.Filename, n)
	return nil
}
