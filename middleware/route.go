package middleware

import (
	"github.com/gin-gonic/gin"
)

// 鉴权由部署方注入（网关/JWT/内网白名单都行）。
// 未注入时 IsAuth 路由直接放行，适合内网单体部署。
var authMW gin.HandlerFunc

// UseAuth installs the auth middleware applied to IsAuth routes.
func UseAuth(h gin.HandlerFunc) { authMW = h }

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth && authMW != nil {
		r.POST(path, authMW, handler)
	} else {
		r.POST(path, handler)
	}
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth && authMW != nil {
		r.GET(path, authMW, handler)
	} else {
		r.GET(path, handler)
	}
}
