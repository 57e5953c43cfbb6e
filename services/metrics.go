package services

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ApexAZ/zentropy-sub008/core"
)

// Metrics holds the auth core's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	LoginAttempts    *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec
	PasswordChanges  *prometheus.CounterVec
	ReapedSessions   prometheus.Counter
	ActiveSessions   prometheus.Gauge
	ExpiredSessions  prometheus.Gauge
	SignedInAccounts prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zentropy",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zentropy",
			Subsystem: "auth",
			Name:      "rate_limited_total",
			Help:      "Requests denied by the rate limiter, by action.",
		}, []string{"action"}),
		PasswordChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zentropy",
			Subsystem: "auth",
			Name:      "password_changes_total",
			Help:      "Password change attempts by outcome.",
		}, []string{"result"}),
		ReapedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zentropy",
			Subsystem: "sessions",
			Name:      "reaped_total",
			Help:      "Session rows deleted by the reaper.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zentropy",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions that are active and unexpired.",
		}),
		ExpiredSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zentropy",
			Subsystem: "sessions",
			Name:      "expired",
			Help:      "Sessions past expiry still awaiting reaping.",
		}),
		SignedInAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zentropy",
			Subsystem: "sessions",
			Name:      "accounts",
			Help:      "Distinct accounts holding at least one active session.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.LoginAttempts,
			m.RateLimited,
			m.PasswordChanges,
			m.ReapedSessions,
			m.ActiveSessions,
			m.ExpiredSessions,
			m.SignedInAccounts,
		)
	}
	return m
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) rateLimited(action core.Action) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) passwordChange(result string) {
	if m == nil {
		return
	}
	m.PasswordChanges.WithLabelValues(result).Inc()
}

func (m *Metrics) reaped(n int) {
	if m == nil {
		return
	}
	m.ReapedSessions.Add(float64(n))
}

func (m *Metrics) observeStats(s core.SessionStats) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(s.ActiveCount))
	m.ExpiredSessions.Set(float64(s.ExpiredCount))
	m.SignedInAccounts.Set(float64(s.DistinctAccounts))
}
