package handler

import (
	"path"
	"strings"
)

// ResolvedTarget 由请求 URI 推导出的目标
type ResolvedTarget struct {
	Filename string // 相对服务目录的路径, 总以 "." 开头
	CGIArgs  string // "?" 之后的部分, 仅动态内容
	IsStatic bool
}

// ParseURI 将 URI 解析为文件名和 CGI 参数
// 不包含 marker 的 URI 是静态内容: 文件名为 "." + uri, 以 / 结尾时补上 defaultDoc.
// 包含 marker 的 URI 是动态内容: 在第一个 "?" 处切开, 之后为参数, 之前加 "." 为文件名.
// 纯字符串变换, 不访问文件系统
func ParseURI(uri, marker, defaultDoc string) ResolvedTarget {
	if !strings.Contains(uri, marker) {
		filename := "." + uri
		if strings.HasSuffix(uri, "/") {
			filename += defaultDoc
		}
		return ResolvedTarget{Filename: filename, IsStatic: true}
	}

	name, args, _ := strings.Cut(uri, "?")
	return ResolvedTarget{Filename: "." + name, CGIArgs: args, IsStatic: false}
}

// escapesRoot 报告文件名清理后是否指向服务目录之外
func escapesRoot(filename string) bool {
	cleaned := path.Clean(filename)
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}
