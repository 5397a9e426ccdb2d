package gateway

import (
	"net/http"

	"ClipSync/tools/errs"
	"ClipSync/tools/specialerror"

	"github.com/gin-gonic/gin"
)

type apiResp struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func respOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, apiResp{Code: 0, Msg: "ok", Data: data})
}

// respErr maps any error to the code envelope. Unrecognized errors come out
// as 500 without leaking internals.
func respErr(c *gin.Context, err error) {
	if codeErr := specialerror.ErrCode(errs.Unwrap(err)); codeErr != nil {
		c.JSON(http.StatusOK, apiResp{Code: codeErr.Code, Msg: codeErr.Msg + detailSuffix(codeErr.Detail)})
		return
	}
	c.JSON(http.StatusOK, apiResp{Code: errs.ServerInternalError, Msg: "internal error"})
}

func detailSuffix(detail string) string {
	if detail == "" {
		return ""
	}
	return ": " + detail
}
