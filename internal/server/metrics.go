package server

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"mortgagedapp/internal/mortgage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry       *prometheus.Registry
	actionsTotal   *prometheus.CounterVec
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
}

func newMetricsRegistry() *metricsRegistry {
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mortgagedapp_api_actions_total",
		Help: "API actions by outcome",
	}, []string{"action", "outcome"})

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mortgagedapp_gateway_calls_total",
		Help: "Contract gateway calls by result",
	}, []string{"op", "result"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mortgagedapp_gateway_call_seconds",
		Help:    "Contract gateway call latency, including receipt waits",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"op"})

	r := prometheus.NewRegistry()
	r.MustRegister(actions, calls, latency)

	return &metricsRegistry{
		registry:       r,
		actionsTotal:   actions,
		gatewayCalls:   calls,
		gatewayLatency: latency,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incAction(action, outcome string) {
	m.actionsTotal.WithLabelValues(action, outcome).Inc()
}

// watchBusy exports the controller's busy flag as a 0/1 gauge.
func (m *metricsRegistry) watchBusy(busy func() bool) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mortgagedapp_controller_busy",
		Help: "1 while a wallet or contract operation is in flight",
	}, func() float64 {
		if busy() {
			return 1
		}
		return 0
	}))
}

func (m *metricsRegistry) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayCalls.WithLabelValues(op, result).Inc()
	m.gatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// instrumentedGateway records every gateway call before passing it through.
type instrumentedGateway struct {
	next    mortgage.Gateway
	metrics *metricsRegistry
}

func instrument(gw mortgage.Gateway, m *metricsRegistry) mortgage.Gateway {
	return &instrumentedGateway{next: gw, metrics: m}
}

func (g *instrumentedGateway) Connect(ctx context.Context) (mortgage.Connection, error) {
	start := time.Now()
	conn, err := g.next.Connect(ctx)
	g.metrics.observe(mortgage.OpConnect, start, err)
	return conn, err
}

func (g *instrumentedGateway) Create(ctx context.Context, amount *big.Int) error {
	start := time.Now()
	err := g.next.Create(ctx, amount)
	g.metrics.observe(mortgage.OpCreate, start, err)
	return err
}

func (g *instrumentedGateway) Approve(ctx context.Context, id uint64) error {
	start := time.Now()
	err := g.next.Approve(ctx, id)
	g.metrics.observe(mortgage.OpApprove, start, err)
	return err
}

func (g *instrumentedGateway) Pay(ctx context.Context, id uint64, amount *big.Int) error {
	start := time.Now()
	err := g.next.Pay(ctx, id, amount)
	g.metrics.observe(mortgage.OpPay, start, err)
	return err
}

func (g *instrumentedGateway) ListAll(ctx context.Context) ([]mortgage.Mortgage, error) {
	start := time.Now()
	list, err := g.next.ListAll(ctx)
	g.metrics.observe(mortgage.OpList, start, err)
	return list, err
}
