package errs

import (
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// 业务错误码
const (
	CodeValidation           = 41001 // 非法坐标/速度/时间戳
	CodeNotFound             = 44001 // 无缓存且无落库数据
	CodeUpstreamWrite        = 52001 // 批量落库失败，整批回滚
	CodePartitionMaintenance = 52002 // 单个分区创建/删除失败（非致命）
	CodeMalformedRecord      = 52003 // 轨迹编码块长度异常
)

var (
	ErrValidation           = NewCodeError(CodeValidation, "validation failed")
	ErrNotFound             = NewCodeError(CodeNotFound, "record not found")
	ErrUpstreamWrite        = NewCodeError(CodeUpstreamWrite, "upstream write failed")
	ErrPartitionMaintenance = NewCodeError(CodePartitionMaintenance, "partition maintenance failed")
	ErrMalformedRecord      = NewCodeError(CodeMalformedRecord, "malformed record")
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

// WithDetail returns a copy carrying extra detail text.
func (e *CodeError) WithDetail(detail string) *CodeError {
	c := e.clone()
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return c
}

// Wrap attaches a call stack.
func (e *CodeError) Wrap() error {
	return errors.WithStack(e.clone())
}

// WrapMsg attaches detail plus a call stack in one call.
func (e *CodeError) WrapMsg(detail string) error {
	return errors.WithStack(e.WithDetail(detail))
}

// Is matches by code, so wrapped/detailed copies still compare equal
// through errors.Is.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !stderrors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// CodeOf extracts the business code from an error chain, 0 if absent.
func CodeOf(err error) int {
	var ce *CodeError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
