package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portfolio"

var (
	// BlacklistHits 统计被黑名单拒绝的请求。
	BlacklistHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "blacklist_hits_total",
			Help:      "被黑名单拦截的请求数。",
		},
	)

	// EventsPublished 按类型与结果统计活动事件发布。
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "活动事件发布次数。",
		},
		[]string{"type", "result"},
	)

	// MailSent 按模板与结果统计发出的邮件。
	MailSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mail",
			Name:      "sent_total",
			Help:      "邮件发送次数。",
		},
		[]string{"kind", "result"},
	)
)

// Result 将错误折叠为 "ok" 或 "error" 标签。
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
