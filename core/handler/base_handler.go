package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Singert/tinyhttpd/core/talklog"
	"github.com/Singert/tinyhttpd/core/utils"
)

// ProtocolVersion 响应状态行使用的协议版本
const ProtocolVersion = "HTTP/1.0"

// ErrMalformedRequest 请求行不足三个字段
var ErrMalformedRequest = errors.New("malformed request line")

// Request 请求行的三个字段, 解析后不再修改
type Request struct {
	Method  string
	URI     string
	Version string
}

// TransactionState 单个事务所处的阶段
type TransactionState int

const (
	StateAwaitRequestLine TransactionState = iota
	StateHeadersConsumed
	StateURIResolved
	StateBadRequest
	StateNotImplemented
	StateNotFound
	StateForbidden
	StateServingStatic
	StateServingDynamic
	StateDone
)

var stateNames = map[TransactionState]string{
	StateAwaitRequestLine: "AwaitRequestLine",
	StateHeadersConsumed:  "HeadersConsumed",
	StateURIResolved:      "URIResolved",
	StateBadRequest:       "BadRequest",
	StateNotImplemented:   "NotImplemented",
	StateNotFound:         "NotFound",
	StateForbidden:        "Forbidden",
	StateServingStatic:    "ServingStatic",
	StateServingDynamic:   "ServingDynamic",
	StateDone:             "Done",
}

func (s TransactionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "TransactionState(" + strconv.Itoa(int(s)) + ")"
}

// RequestHandler 处理一个连接上的一次事务
type RequestHandler struct {
	Conn          net.Conn          // 客户端连接
	RFile         *bufio.Reader     // 请求读取器
	WFile         *bufio.Writer     // 响应写入器
	Request       Request           // 请求行
	RequestLine   string            // 原始请求行
	Headers       map[string]string // 请求头, 仅用于日志
	ClientAddress string            // 客户端地址
	ServerVersion string            // Server 头的值
	HeadersBuffer [][]byte          // 响应头缓冲区
	State         TransactionState  // 当前阶段
	Status        utils.HTTPStatus  // 已发送的状态码

	opts Options
	fs   afero.Fs
	root string
}

func (h *RequestHandler) setState(s TransactionState) {
	talklog.Info(talklog.GID(), "事务状态: %s -> %s", h.State, s)
	h.State = s
}

// Handle 处理一次事务: 解析请求, 解析 URI, 检查文件, 提供静态或动态内容
// 任何失败只结束当前事务, 不影响服务器
func (h *RequestHandler) Handle(ctx context.Context) {
	gid := talklog.GID()
	talklog.SetPrefix(gid, "HTTP")
	talklog.Info(gid, "New request from %s", h.ClientAddress)

	defer func() {
		if r := recover(); r != nil {
			talklog.Error(gid, "事务异常终止: %v", r)
		}
		h.setState(StateDone)
	}()

	if err := h.doTransaction(ctx); err != nil {
		talklog.Error(gid, "连接中止: %v", err)
	}
}

func (h *RequestHandler) doTransaction(ctx context.Context) error {
	gid := talklog.GID()

	// 读取请求行
	line, err := ReadLine(h.RFile, h.opts.MaxLine)
	if err != nil {
		if errors.Is(err, ErrLineTooLong) {
			h.setState(StateBadRequest)
			return h.ClientError("request line", utils.REQUEST_URI_TOO_LONG, "", "")
		}
		if errors.Is(err, io.EOF) {
			talklog.Info(gid, "客户端未发送请求即关闭连接")
			return nil
		}
		return fmt.Errorf("read request line: %w", err)
	}
	h.RequestLine = strings.TrimRight(line, "\r\n")
	req, parseErr := ParseRequestLine(line)

	// 读取并丢弃请求头
	if err := h.ReadRequestHeaders(); err != nil {
		if errors.Is(err, ErrLineTooLong) {
			h.setState(StateBadRequest)
			return h.ClientError("request header", utils.REQUEST_HEADER_FIELDS_TOO_LARGE, "", "")
		}
		return fmt.Errorf("read request headers: %w", err)
	}
	h.setState(StateHeadersConsumed)

	if parseErr != nil {
		talklog.Warn(gid, "Parse request failed: %q", h.RequestLine)
		h.setState(StateBadRequest)
		return h.ClientError(h.RequestLine, utils.BAD_REQUEST, "", "")
	}
	h.Request = req
	talklog.Req(gid, req.Method, req.URI, req.Version)

	if !strings.EqualFold(req.Method, "GET") {
		h.setState(StateNotImplemented)
		return h.ClientError(req.Method, utils.NOT_IMPLEMENTED, "Not implemented", "Tiny does not implement this method")
	}

	target := ParseURI(req.URI, h.opts.CGIMarker, h.opts.DefaultDoc)
	h.setState(StateURIResolved)

	if escapesRoot(target.Filename) {
		h.setState(StateForbidden)
		return h.ClientError(target.Filename, utils.FORBIDDEN, "Forbidden", "Tiny refuses paths outside its directory")
	}

	info, err := h.fs.Stat(target.Filename)
	if err != nil {
		h.setState(StateNotFound)
		return h.ClientError(target.Filename, utils.NOT_FOUND, "Not found", "Tiny couldn't find this file")
	}

	mode := info.Mode()
	if target.IsStatic {
		if !mode.IsRegular() || mode.Perm()&0400 == 0 {
			h.setState(StateForbidden)
			return h.ClientError(target.Filename, utils.FORBIDDEN, "Forbidden", "Tiny couldn't read the file")
		}
		h.setState(StateServingStatic)
		return h.ServeStatic(target, info.Size())
	}

	if !mode.IsRegular() || mode.Perm()&0100 == 0 {
		h.setState(StateForbidden)
		return h.ClientError(target.Filename, utils.FORBIDDEN, "Forbidden", "Tiny couldn't run the CGI program")
	}
	h.setState(StateServingDynamic)
	return h.ServeDynamic(ctx, target)
}

// ParseRequestLine 将请求行按空白切分为方法, URI, 版本
// 多余的字段被忽略
func ParseRequestLine(line string) (Request, error) {
	words := strings.Fields(line)
	if len(words) < 3 {
		return Request{}, fmt.Errorf("%w: %q", ErrMalformedRequest, strings.TrimRight(line, "\r\n"))
	}
	return Request{Method: words[0], URI: words[1], Version: words[2]}, nil
}

// ReadRequestHeaders 读取请求头直到空行, 内容只记录日志
// 连接在空行之前关闭视为请求头结束
func (h *RequestHandler) ReadRequestHeaders() error {
	gid := talklog.GID()
	for {
		line, err := ReadLine(h.RFile, h.opts.MaxLine)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if isBlankLine(line) {
			return nil
		}
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r\n"), ":")
		if !ok {
			talklog.Warn(gid, "Malformed header line: %q", line)
			continue
		}
		key = strings.TrimSpace(key)
		h.Headers[key] = strings.TrimSpace(value)
		talklog.Hdr(gid, key, value)
	}
}

// ClientError 发送错误响应
// Content-length 为响应体的实际字节数, cause 来自请求, 需要转义
func (h *RequestHandler) ClientError(cause string, code utils.HTTPStatus, shortMsg, longMsg string) error {
	if shortMsg == "" {
		shortMsg = utils.ShortMessage(code)
	}
	if longMsg == "" {
		longMsg = utils.LongMessage(code)
	}
	talklog.Error(talklog.GID(), "错误响应: %d %s (%s)", code, shortMsg, cause)

	body := fmt.Sprintf(utils.DefaultErrorMessageFormat,
		code,
		shortMsg,
		longMsg,
		html.EscapeString(cause),
		h.ServerVersion,
	)

	h.SendResponseOnly(code, shortMsg)
	h.SendHeader("Content-type", utils.DefaultErrorContentType)
	h.SendHeader("Content-length", strconv.Itoa(len(body)))
	if err := h.EndHeaders(); err != nil {
		return err
	}

	if _, err := h.WFile.WriteString(body); err != nil {
		return fmt.Errorf("write error body: %w", err)
	}
	if err := h.WFile.Flush(); err != nil {
		return fmt.Errorf("write error response: %w", err)
	}
	return nil
}

// SendResponseOnly 缓存响应状态行
func (h *RequestHandler) SendResponseOnly(code utils.HTTPStatus, message string) {
	if message == "" {
		message = utils.ShortMessage(code)
	}
	h.Status = code
	h.HeadersBuffer = append(h.HeadersBuffer, []byte(fmt.Sprintf("%s %d %s\r\n", ProtocolVersion, code, message)))
	talklog.Resp(talklog.GID(), code)
}

// SendHeader 缓存一个响应头
func (h *RequestHandler) SendHeader(keyword, value string) {
	h.HeadersBuffer = append(h.HeadersBuffer, []byte(fmt.Sprintf("%s: %s\r\n", keyword, value)))
}

// EndHeaders 追加空行并写出缓存的响应头
func (h *RequestHandler) EndHeaders() error {
	h.HeadersBuffer = append(h.HeadersBuffer, []byte("\r\n"))
	return h.FlushHeaders()
}

// FlushHeaders 将缓存的响应头写入响应写入器, 返回第一个写入错误
func (h *RequestHandler) FlushHeaders() error {
	talklog.Info(talklog.GID(), "已发送 %d 个响应头", len(h.HeadersBuffer)-1)
	defer func() { h.HeadersBuffer = h.HeadersBuffer[:0] }()
	for _, header := range h.HeadersBuffer {
		if _, err := h.WFile.Write(header); err != nil {
			return fmt.Errorf("write headers: %w", err)
		}
	}
	return nil
}
