package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signalflow/internal/consts"
)

// 代表响应给客户端的的一个消息结构，包括错误码，错误信息，响应数据
type ApiResponse struct {
	RequestId string      `json:"request_id"` // 请求的唯一ID
	Code      int         `json:"code"`       // 错误码 0表示无错误
	Message   string      `json:"message"`    // 提示信息
	Data      interface{} `json:"data"`       // 响应数据
}

// JSON 发送json格式数据
func JSON(c *gin.Context, err error, data interface{}) {
	code := 0
	message := "ok"
	httpStatus := http.StatusOK
	if err != nil {
		// 失败统一返回400，业务细节放在message里
		code = 1
		message = err.Error()
		httpStatus = http.StatusBadRequest
	}
	c.JSON(httpStatus, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      code,
		Message:   message,
		Data:      data,
	})
}

// BadRequests 参数错误
func BadRequests(c *gin.Context) {
	c.JSON(http.StatusBadRequest, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      1,
		Message:   "bad request",
	})
}

// Unauthorized 鉴权失败
func Unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      1,
		Message:   "unauthorized",
	})
}
