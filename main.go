package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Singert/tinyhttpd/core/config"
	"github.com/Singert/tinyhttpd/core/server"
	"github.com/Singert/tinyhttpd/core/talklog"
)

func main() {
	gid := talklog.GID()
	prog := filepath.Base(os.Args[0])

	// 定义命令行参数, 默认值由配置层提供
	flags := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	flags.StringP("directory", "d", ".", "服务目录")
	flags.StringP("ipv4", "a", "0.0.0.0", "IPv4地址")
	flags.StringP("ipv6", "b", "::", "IPv6地址")
	flags.BoolP("dualstack", "D", false, "启用双栈支持")
	flags.StringP("cgi-marker", "m", "cgi-bin", "动态内容路径标记")
	flags.StringP("index", "i", "home.html", "默认文档")
	cfgFile := flags.String("config", "", "配置文件路径")
	showVersion := flags.BoolP("version", "v", false, "显示版本")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <port>\n", prog)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if *showVersion {
		fmt.Printf("%s/%s go%s\n", config.TinyName(), config.TinyVersion(), config.GoVersion())
		return
	}

	// 端口是必需的位置参数
	args := flags.Args()
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s <port>\n", prog)
		os.Exit(1)
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 0 || port > 65535 {
		fmt.Fprintf(os.Stderr, "%s: invalid port %q\n", prog, args[0])
		os.Exit(1)
	}

	// 初始化配置
	if err := config.InitConfig(*cfgFile, flags, ".env"); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prog, err)
		os.Exit(1)
	}
	config.SetPort(port)

	c := config.Get()
	logConfig := &talklog.LogConfig{
		LogToFile: c.Logger.LogToFile,
		FilePath:  c.Logger.FilePath,
		WithTime:  c.Logger.WithTime,
	}
	if err := talklog.InitLogConfig(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prog, err)
		os.Exit(1)
	}

	talklog.Boot(gid, "%s/%s go%s", config.TinyName(), config.TinyVersion(), config.GoVersion())
	talklog.Boot(gid, "提供目录: %s", c.Server.Workdir)
	talklog.Boot(gid, "动态内容标记: %s", c.Server.CGIMarker)
	talklog.Boot(gid, "双栈支持: %t", c.Server.IsDualStack)
	talklog.Boot(gid, "监听端口: %d", c.Server.Port)

	if config.WatchConfig(func(name string, err error) {
		if err != nil {
			talklog.Warn(talklog.GID(), "配置重载失败 %s: %v", name, err)
			return
		}
		talklog.Info(talklog.GID(), "配置已重载: %s", name)
	}) {
		talklog.Boot(gid, "正在监听配置文件变化")
	}

	// 启动服务器
	srv, err := server.StartServer()
	if err != nil {
		talklog.Error(gid, "启动服务器失败: %v", err)
		fmt.Fprintf(os.Stderr, "启动服务器失败: %v\n", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Serve(); err != nil {
			talklog.Error(gid, "服务器运行失败: %v", err)
			fmt.Fprintf(os.Stderr, "服务器运行失败: %v\n", err)
			os.Exit(1)
		}
	}()

	// 捕获系统信号 (Ctrl+C / kill)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	talklog.Boot(gid, "收到信号 %s，正在关机...", sig)

	// 等待当前事务结束
	if err := srv.Shutdown(); err != nil {
		talklog.Boot(gid, "服务器关机失败: %v", err)
	} else {
		talklog.Boot(gid, "服务器关机完成")
	}
}
