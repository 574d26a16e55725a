package consts

const (
	// RequestId 每个请求的唯一标识，由中间件注入
	RequestId = "request_id"
)
