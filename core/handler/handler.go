package handler

import (
	"bufio"
	"net"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Singert/tinyhttpd/core/config"
)

// 这个文件作为handler包的入口点，提供创建请求处理器的工厂函数
// 具体实现拆分到以下文件中：
// - lineio.go: 有界行读取
// - base_handler.go: 事务编排、请求行与请求头解析、错误响应
// - uri.go: URI 解析为文件名与 CGI 参数
// - static_handler.go: 静态内容
// - cgi_handler.go: 动态内容

// Options 控制单个事务的行为, 每个连接取一次快照
type Options struct {
	Root       string        // 服务目录
	Fs         afero.Fs      // 为空时使用以 Root 为根的操作系统文件系统
	ServerName string        // Server 头与错误页脚
	CGIMarker  string        // URI 中出现该子串即为动态内容
	DefaultDoc string        // 以 / 结尾的 URI 补全的文档名
	MaxLine    int           // 请求行与请求头的最大字节数
	CGITimeout time.Duration // 0 表示一直等待子进程
}

// OptionsFromConfig 根据配置构造处理器选项
func OptionsFromConfig(c config.Config) Options {
	return Options{
		Root:       c.Server.Workdir,
		ServerName: c.Server.ServerName,
		CGIMarker:  c.Server.CGIMarker,
		DefaultDoc: c.Server.DefaultDoc,
		MaxLine:    c.Server.MaxLine,
		CGITimeout: c.Server.CGITimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.Root == "" {
		o.Root = "."
	}
	if o.ServerName == "" {
		o.ServerName = "Tiny Web Server"
	}
	if o.CGIMarker == "" {
		o.CGIMarker = "cgi-bin"
	}
	if o.DefaultDoc == "" {
		o.DefaultDoc = "home.html"
	}
	if o.MaxLine <= 0 {
		o.MaxLine = DefaultMaxLine
	}
	return o
}

// NewRequestHandler 创建一个处理单个连接的请求处理器
func NewRequestHandler(conn net.Conn, opts Options) *RequestHandler {
	opts = opts.withDefaults()

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		root = opts.Root
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), root)
	}

	clientAddr := ""
	if conn.RemoteAddr() != nil {
		clientAddr = conn.RemoteAddr().String()
	}

	return &RequestHandler{
		Conn:          conn,
		RFile:         bufio.NewReader(conn),
		WFile:         bufio.NewWriter(conn),
		Headers:       make(map[string]string),
		HeadersBuffer: make([][]byte, 0),
		ClientAddress: clientAddr,
		ServerVersion: opts.ServerName,
		State:         StateAwaitRequestLine,
		opts:          opts,
		fs:            fs,
		root:          root,
	}
}
