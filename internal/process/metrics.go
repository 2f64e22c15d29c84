package process

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics は子プロセスの起動・終了を記録する
// nil の *Metrics はすべての記録を無視する
type Metrics struct {
	spawns  *prometheus.CounterVec
	exits   *prometheus.CounterVec
	running *prometheus.GaugeVec
}

// NewMetrics は reg に登録された新しいMetricsを作成する
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		spawns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kikimimi_process_spawns_total",
			Help: "Total number of spawned child processes",
		}, []string{"binary"}),
		exits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kikimimi_process_exits_total",
			Help: "Total number of exited child processes by exit code",
		}, []string{"binary", "code"}),
		running: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kikimimi_process_running",
			Help: "Number of currently running child processes",
		}, []string{"binary"}),
	}
}

func (m *Metrics) spawned(binary string) {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues(binary).Inc()
	m.running.WithLabelValues(binary).Inc()
}

func (m *Metrics) exited(binary string, st ExitStatus) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(binary, strconv.Itoa(st.Code)).Inc()
	m.running.WithLabelValues(binary).Dec()
}
