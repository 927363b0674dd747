package transport

import (
	"encoding/json"
	"net/http"

	"liuproxy_rotator/proxypool/model"
)

// Response 是一次已完成请求的结果，正文已全部读入内存。
type Response struct {
	StatusCode  int
	Status      string
	Header      http.Header
	Body        []byte
	URL         string
	Proxy       model.ProxyAddress
	Fingerprint string
}

// OK 与常见 HTTP 客户端的语义一致：状态码小于 400 即为成功。
func (r *Response) OK() bool {
	return r.StatusCode < 400
}

// JSON 将正文解码到 v。
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

func (r *Response) Text() string {
	return string(r.Body)
}
