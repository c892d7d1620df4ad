package utils

// HTTPStatus 定义HTTP状态码常量
type HTTPStatus int

// HTTP状态码常量定义
const (
	OK                              HTTPStatus = 200
	BAD_REQUEST                     HTTPStatus = 400
	FORBIDDEN                       HTTPStatus = 403
	NOT_FOUND                       HTTPStatus = 404
	REQUEST_URI_TOO_LONG            HTTPStatus = 414
	REQUEST_HEADER_FIELDS_TOO_LARGE HTTPStatus = 431
	INTERNAL_SERVER_ERROR           HTTPStatus = 500
	NOT_IMPLEMENTED                 HTTPStatus = 501
)

// 状态码对应的短消息和长消息
var StatusMessages = map[HTTPStatus][]string{
	OK:                              {"OK", "Request fulfilled, document follows"},
	BAD_REQUEST:                     {"Bad request", "Tiny couldn't parse the request line"},
	FORBIDDEN:                       {"Forbidden", "Tiny couldn't read the file"},
	NOT_FOUND:                       {"Not found", "Tiny couldn't find this file"},
	REQUEST_URI_TOO_LONG:            {"Request-URI too long", "Tiny couldn't read the request line"},
	REQUEST_HEADER_FIELDS_TOO_LARGE: {"Request header fields too large", "Tiny couldn't read a request header"},
	INTERNAL_SERVER_ERROR:           {"Internal server error", "Tiny couldn't run the CGI program"},
	NOT_IMPLEMENTED:                 {"Not implemented", "Tiny does not implement this method"},
}

// ShortMessage 返回状态码的原因短语
func ShortMessage(code HTTPStatus) string {
	if msgs, ok := StatusMessages[code]; ok {
		return msgs[0]
	}
	return "???"
}

// LongMessage 返回状态码的默认解释
func LongMessage(code HTTPStatus) string {
	if msgs, ok := StatusMessages[code]; ok {
		return msgs[1]
	}
	return "???"
}

// 默认错误页模板: 状态码, 短消息, 长消息, 原因, 服务器名
const DefaultErrorMessageFormat = "<html><title>Tiny Error</title>" +
	"<body bgcolor=ffffff>\r\n" +
	"%d: %s\r\n" +
	"<p>%s: %s\r\n" +
	"<hr><em>The %s</em>\r\n"

const DefaultErrorContentType = "text/html"
