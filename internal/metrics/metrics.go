// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// プッシュ結果のラベル値
const (
	PushDelivered = "delivered"
	PushDropped   = "dropped"
	PushOffline   = "offline"
)

// 投票結果のラベル値
const (
	VoteAccepted     = "accepted"
	VoteAlreadyVoted = "already_voted"
	VoteClosed       = "closed"
	VoteInvalid      = "invalid"
	VoteError        = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 配信・投票・集計の各コンポーネントから利用する。
type MetricsCollector interface {
	RecordNotificationPublished(notificationType string)
	RecordPush(result string, count int)
	SetLiveConnections(n int)
	RecordUnreadRecompute(ok bool)
	RecordVote(result string)
	RecordPollTransition(status string)
	RecordAnnouncementsPublished(count int)
	RecordTickDuration(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	published        *prometheus.CounterVec
	push             *prometheus.CounterVec
	liveConnections  prometheus.Gauge
	unreadRecompute  *prometheus.CounterVec
	votes            *prometheus.CounterVec
	pollTransitions  *prometheus.CounterVec
	announcementsOut prometheus.Counter
	tickDuration     prometheus.Histogram
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorlink_notifications_published_total",
			Help: "永続化された通知の合計数（種別ごと）",
		}, []string{"type"}),
		push: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorlink_push_total",
			Help: "ライブ接続へのプッシュ結果の合計数",
		}, []string{"result"}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mentorlink_live_connections",
			Help: "現在のライブ接続数",
		}),
		unreadRecompute: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorlink_unread_recompute_total",
			Help: "未読数の再計算回数",
		}, []string{"result"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorlink_votes_total",
			Help: "投票リクエストの結果別の合計数",
		}, []string{"result"}),
		pollTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorlink_poll_transitions_total",
			Help: "週次投票の状態遷移の合計数（遷移先の状態ごと）",
		}, []string{"status"}),
		announcementsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentorlink_poll_announcements_published_total",
			Help: "配信済みにした結果発表の合計数",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mentorlink_poll_tick_duration_seconds",
			Help:    "週次投票ライフサイクル処理1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorlink_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.published,
		c.push,
		c.liveConnections,
		c.unreadRecompute,
		c.votes,
		c.pollTransitions,
		c.announcementsOut,
		c.tickDuration,
		c.httpStatus,
	)

	return c
}

// RecordNotificationPublished は通知の永続化を記録する。
func (c *Collector) RecordNotificationPublished(notificationType string) {
	c.published.WithLabelValues(notificationType).Inc()
}

// RecordPush はプッシュ結果を記録する。countが0以下の場合は何もしない。
func (c *Collector) RecordPush(result string, count int) {
	if count <= 0 {
		return
	}
	c.push.WithLabelValues(result).Add(float64(count))
}

// SetLiveConnections は現在のライブ接続数を設定する。
func (c *Collector) SetLiveConnections(n int) {
	c.liveConnections.Set(float64(n))
}

// RecordUnreadRecompute は未読数の再計算結果を記録する。
func (c *Collector) RecordUnreadRecompute(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.unreadRecompute.WithLabelValues(result).Inc()
}

// RecordVote は投票リクエストの結果を記録する。
func (c *Collector) RecordVote(result string) {
	c.votes.WithLabelValues(result).Inc()
}

// RecordPollTransition は週次投票の状態遷移を記録する。
func (c *Collector) RecordPollTransition(status string) {
	c.pollTransitions.WithLabelValues(status).Inc()
}

// RecordAnnouncementsPublished は配信済みにした結果発表の件数を記録する。
func (c *Collector) RecordAnnouncementsPublished(count int) {
	c.announcementsOut.Add(float64(count))
}

// RecordTickDuration はライフサイクル処理の所要時間を記録する。
func (c *Collector) RecordTickDuration(duration time.Duration) {
	c.tickDuration.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// StatusMiddleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func (c *Collector) StatusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.RecordHTTPStatus(rec.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush はSSEのストリーミングのために下位のFlusherへ委譲する。
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack はWebSocketのアップグレードのために下位のHijackerへ委譲する。
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap はhttp.ResponseControllerが下位のResponseWriterへ到達するために使う。
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
