// Package errcode 定义推送给前端的任务结果码。
// 4xxx 表示结果可用但不完整，5xxx 表示任务失败。
package errcode

// Code 随 WebSocket 通知下发。
type Code int

const (
	OK              Code = 0
	ResourceMissing Code = 4004
	SystemError     Code = 5000
	RenderFailed    Code = 5001
	StorageFailed   Code = 5002
)
