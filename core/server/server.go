package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Singert/tinyhttpd/core/config"
	"github.com/Singert/tinyhttpd/core/handler"
	"github.com/Singert/tinyhttpd/core/talklog"
)

// HTTPServer 迭代式服务器: 一次只处理一个连接, 处理完才接受下一个
type HTTPServer struct {
	Addr           string             // 服务器地址
	ServerName     string             // 服务器名称
	ServerPort     int                // 服务器端口
	Listener       net.Listener       // 网络监听器
	ShutdownCtx    context.Context    // 关闭上下文
	ShutdownCancel context.CancelFunc // 关闭取消函数

	mu      sync.Mutex
	running bool          // Serve 已开始接受连接
	serving chan struct{} // Serve 返回时关闭

	// Options 为每个连接提供处理器选项, 为空时使用当前配置的快照
	Options func() handler.Options
	// DeadLine 为每个连接设置的读写期限, 0 表示不设置
	DeadLine time.Duration
}

// NewHTTPServer 创建一个新的HTTP服务器
func NewHTTPServer(addr string) *HTTPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPServer{
		Addr:           addr,
		ShutdownCtx:    ctx,
		ShutdownCancel: cancel,
		serving:        make(chan struct{}),
	}
}

// ServerBind 绑定服务器地址并存储服务器名称
func (s *HTTPServer) ServerBind() error {
	lc := &net.ListenConfig{}
	listener, err := lc.Listen(s.ShutdownCtx, "tcp", s.Addr)
	if err != nil {
		return err
	}
	s.Listener = listener

	// 获取主机名和端口
	host, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		return err
	}
	s.ServerName = host
	s.ServerPort, _ = strconv.Atoi(port)
	return nil
}

// Serve 开始服务, 在同一个 goroutine 中依次处理每个连接
func (s *HTTPServer) Serve() error {
	if s.Listener == nil {
		if err := s.ServerBind(); err != nil {
			return err
		}
	}
	gid := talklog.GID()

	// 与 Shutdown 互斥: 要么 Shutdown 等待本次 Serve, 要么 Serve 看到已关闭直接返回
	s.mu.Lock()
	if s.ShutdownCtx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already serving")
	}
	s.running = true
	s.mu.Unlock()
	defer close(s.serving)

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			select {
			case <-s.ShutdownCtx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			talklog.Error(gid, "Error accepting connection: %v", err)
			continue
		}
		talklog.Info(gid, "Accepted connection from %s", conn.RemoteAddr())

		s.serveConn(conn)
	}
}

func (s *HTTPServer) serveConn(c net.Conn) {
	defer c.Close()

	if s.DeadLine > 0 {
		c.SetDeadline(time.Now().Add(s.DeadLine))
	}

	var opts handler.Options
	if s.Options != nil {
		opts = s.Options()
	} else {
		opts = handler.OptionsFromConfig(config.Get())
	}
	handler.NewRequestHandler(c, opts).Handle(s.ShutdownCtx)
}

// Shutdown 关闭服务器并等待当前事务结束, 运行中的 CGI 程序随上下文一起被终止
func (s *HTTPServer) Shutdown() error {
	s.mu.Lock()
	s.ShutdownCancel()
	running := s.running
	s.mu.Unlock()

	var err error
	if s.Listener != nil {
		err = s.Listener.Close()
	}
	if running {
		<-s.serving
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// ListenAddr 根据配置返回监听地址, 双栈时使用 IPv6 地址
func ListenAddr(c config.Config) string {
	if c.Server.IsDualStack {
		return net.JoinHostPort(c.Server.IPv6, strconv.Itoa(c.Server.Port))
	}
	return net.JoinHostPort(c.Server.IPv4, strconv.Itoa(c.Server.Port))
}

// StartServer 根据当前配置创建并绑定服务器
func StartServer() (*HTTPServer, error) {
	c := config.Get()
	srv := NewHTTPServer(ListenAddr(c))
	srv.DeadLine = c.Server.DeadLine
	if err := srv.ServerBind(); err != nil {
		return nil, fmt.Errorf("bind %s: %w", srv.Addr, err)
	}

	talklog.Boot(talklog.GID(), "Serving HTTP on %s port %d (http://localhost:%d/) at work directory [%s] ...",
		srv.ServerName, srv.ServerPort, srv.ServerPort, c.Server.Workdir)
	talklog.BootDone(time.Since(c.StartTime))
	return srv, nil
}
