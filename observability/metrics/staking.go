package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"stakevault/core/events"
	"stakevault/core/types"
)

type StakingMetrics struct {
	eventsTotal   *prometheus.CounterVec
	amountsTotal  *prometheus.CounterVec
	feesTotal     *prometheus.CounterVec
	shortfalls    *prometheus.CounterVec
	poolStaked    *prometheus.GaugeVec
	treasuryTotal prometheus.Gauge
	paused        prometheus.Gauge
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_events_total",
				Help: "Count of committed staking events by type.",
			}, []string{"type"}),
			amountsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_amounts_total",
				Help: "Sum of principal amounts moved per event type, in asset units.",
			}, []string{"type"}),
			feesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_fees_total",
				Help: "Sum of fees and penalties routed to the collector, by kind.",
			}, []string{"kind"}),
			shortfalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_reward_shortfalls_total",
				Help: "Settlements where the pool bucket could not cover the accrued reward.",
			}, []string{"pool"}),
			poolStaked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "staking_pool_staked",
				Help: "Aggregate principal staked per pool, in asset units.",
			}, []string{"pool"}),
			treasuryTotal: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_treasury_total",
				Help: "Reward budget currently held by the treasury.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_paused",
				Help: "Whether user operations are halted (1) or live (0).",
			}),
		}
		prometheus.MustRegister(
			stakingRegistry.eventsTotal,
			stakingRegistry.amountsTotal,
			stakingRegistry.feesTotal,
			stakingRegistry.shortfalls,
			stakingRegistry.poolStaked,
			stakingRegistry.treasuryTotal,
			stakingRegistry.paused,
		)
	})
	return stakingRegistry
}

func (m *StakingMetrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

func (m *StakingMetrics) AddAmount(eventType string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.amountsTotal.WithLabelValues(eventType).Add(amount)
}

func (m *StakingMetrics) AddFee(kind string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.feesTotal.WithLabelValues(kind).Add(amount)
}

func (m *StakingMetrics) ObserveShortfall(pool string) {
	if m == nil || pool == "" {
		return
	}
	m.shortfalls.WithLabelValues(pool).Inc()
}

func (m *StakingMetrics) SetPoolStaked(pool string, total float64) {
	if m == nil || pool == "" {
		return
	}
	m.poolStaked.WithLabelValues(pool).Set(total)
}

func (m *StakingMetrics) SetTreasury(total float64) {
	if m == nil {
		return
	}
	m.treasuryTotal.Set(total)
}

func (m *StakingMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

type eventWithPayload interface {
	Event() *types.Event
}

// Recorder adapts the registry to the ledger's emitter interface so committed
// events drive the counters without the engine knowing about prometheus.
type Recorder struct {
	metrics *StakingMetrics
}

func NewRecorder() *Recorder {
	return &Recorder{metrics: Staking()}
}

// Emit implements the ledger emitter contract.
func (r *Recorder) Emit(evt events.Event) {
	if r == nil || evt == nil {
		return
	}
	eventType := evt.EventType()
	r.metrics.ObserveEvent(eventType)

	payload, ok := evt.(eventWithPayload)
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	attrs := event.Attributes
	r.metrics.AddAmount(eventType, attrFloat(attrs, "amount"))

	switch eventType {
	case "staking.deposited":
		r.metrics.AddFee("deposit", attrFloat(attrs, "fee"))
		r.metrics.SetPoolStaked(attrs["pool"], attrFloat(attrs, "totalStaked"))
	case "staking.withdrawn":
		r.metrics.AddFee("withdraw", attrFloat(attrs, "fee"))
		r.metrics.SetPoolStaked(attrs["pool"], attrFloat(attrs, "totalStaked"))
	case "staking.emergency_withdrawn":
		r.metrics.AddFee("penalty", attrFloat(attrs, "penalty"))
		r.metrics.SetPoolStaked(attrs["pool"], attrFloat(attrs, "totalStaked"))
	case "staking.rewards_claimed":
		if attrFloat(attrs, "owed") > attrFloat(attrs, "amount") {
			r.metrics.ObserveShortfall(attrs["pool"])
		}
	case "staking.rewards_injected", "staking.rewards_ejected":
		if total, ok := attrs["total"]; ok {
			if value, err := strconv.ParseFloat(total, 64); err == nil {
				r.metrics.SetTreasury(value)
			}
		}
	case "staking.paused":
		r.metrics.SetPause(true)
	case "staking.resumed":
		r.metrics.SetPause(false)
	}
}

func attrFloat(attrs map[string]string, key string) float64 {
	raw, ok := attrs[key]
	if !ok {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return value
}
