package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraculus_sessions_created_total",
		Help: "Number of game sessions created.",
	})

	choicesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraculus_choices_applied_total",
		Help: "Choice applications by result.",
	}, []string{"result"})

	gesturesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraculus_gestures_total",
		Help: "Gesture inputs by resolution outcome.",
	}, []string{"outcome"})
)
