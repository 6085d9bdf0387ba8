// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespaceFinality = "finality"
	subsystemVoting   = "voting"
	subsystemSync     = "sync"
)

// Metrics collects the progress of finalization.
type Metrics struct {
	epoch           prometheus.Gauge
	point           prometheus.Gauge
	finalizedHeight prometheus.Gauge
	rounds          prometheus.Gauge
	sentMessages    *prometheus.CounterVec
	addResults      *prometheus.CounterVec
	syncResults     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      "epoch",
			Namespace: namespaceFinality,
			Subsystem: subsystemVoting,
			Help:      "the epoch the local voter votes in",
		}),
		point: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      "point",
			Namespace: namespaceFinality,
			Subsystem: subsystemVoting,
			Help:      "the point of the round the local voter votes in",
		}),
		finalizedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      "finalized_height",
			Namespace: namespaceFinality,
			Help:      "the height of the last finalized block",
		}),
		rounds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      "tracked_rounds",
			Namespace: namespaceFinality,
			Subsystem: subsystemVoting,
			Help:      "the number of rounds holding messages",
		}),
		sentMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "sent_messages_total",
			Namespace: namespaceFinality,
			Subsystem: subsystemVoting,
			Help:      "the number of messages sent by the local voter",
		}, []string{"stage"}),
		addResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "received_messages_total",
			Namespace: namespaceFinality,
			Subsystem: subsystemVoting,
			Help:      "the number of messages received, by outcome",
		}, []string{"result"}),
		syncResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "proof_sync_total",
			Namespace: namespaceFinality,
			Subsystem: subsystemSync,
			Help:      "the number of proof synchronization attempts, by outcome",
		}, []string{"result"}),
	}

	var result *multierror.Error
	for _, collector := range []prometheus.Collector{
		m.epoch,
		m.point,
		m.finalizedHeight,
		m.rounds,
		m.sentMessages,
		m.addResults,
		m.syncResults,
	} {
		if err := registerer.Register(collector); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return m, result.ErrorOrNil()
}

func (m *Metrics) observeVotingStatus(status VotingStatus) {
	m.epoch.Set(float64(status.Round.Epoch))
	m.point.Set(float64(status.Round.Point))
}

func (m *Metrics) observeFinalizedHeight(height uint64) {
	m.finalizedHeight.Set(float64(height))
}

func (m *Metrics) observeRounds(rounds int) {
	m.rounds.Set(float64(rounds))
}

func (m *Metrics) observeSentMessage(stage Stage) {
	m.sentMessages.WithLabelValues(stage.String()).Inc()
}

func (m *Metrics) observeAddResult(result AddResult) {
	m.addResults.WithLabelValues(result.String()).Inc()
}

func (m *Metrics) observeSyncResult(result InteractionResult) {
	m.syncResults.WithLabelValues(result.String()).Inc()
}
