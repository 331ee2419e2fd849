package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LotteryRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plazabot_lottery_runs_total",
		Help: "Completed lottery runs per pool.",
	}, []string{"pool"})

	LotteryAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plazabot_lottery_assigned_total",
		Help: "Requests assigned by the lottery, per pool and period.",
	}, []string{"pool", "period"})

	LotteryRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plazabot_lottery_rejected_total",
		Help: "Requests rejected by the lottery, per pool.",
	}, []string{"pool"})

	DirectReservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plazabot_direct_reservations_total",
		Help: "Same-day direct reservation attempts by result.",
	}, []string{"result"})
)
