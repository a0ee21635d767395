// Package worker 实现后台任务：邮件投递、简历 PDF 导出与活动事件通知。
package worker

import (
	"github.com/hibiken/asynq"

	"portfolio/internal/metrics"
	"portfolio/internal/tasks"
)

// NewServeMux 注册全部任务处理器并挂上指标中间件。
func NewServeMux(pdfHandler *PDFTaskHandler, emailHandler *EmailTaskHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypePDFGenerate, pdfHandler)
	emailHandler.Register(mux)
	return mux
}
