// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"

	"github.com/luxfi/metric"
)

const opLabel = "op"

var (
	_ Metrics = (*metricsImpl)(nil)

	opLabels = []string{opLabel}
)

// Metrics counts accepted and rejected gateway operations.
type Metrics interface {
	// MarkAccepted records a committed operation.
	MarkAccepted(op string)
	// MarkRejected records an operation the core rejected.
	MarkRejected(op string)
	// ObserveMintedSupply records the post-mint minted supply.
	ObserveMintedSupply(minted uint64)
}

type metricsImpl struct {
	numAccepted  metric.CounterVec
	numRejected  metric.CounterVec
	mintedSupply metric.Gauge
}

func New(registerer metric.Registerer) (Metrics, error) {
	if _, ok := registerer.(metric.Registry); !ok {
		return nil, errors.New("registerer must implement metric.Registry")
	}
	m := &metricsImpl{
		numAccepted: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "ops_accepted",
				Help: "number of ledger operations accepted",
			},
			opLabels,
		),
		numRejected: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "ops_rejected",
				Help: "number of ledger operations rejected",
			},
			opLabels,
		),
		mintedSupply: metric.NewGauge(metric.GaugeOpts{
			Name: "minted_supply",
			Help: "units minted so far",
		}),
	}
	// Metrics are self-registering when created with NewCounterVec etc.
	return m, nil
}

func (m *metricsImpl) MarkAccepted(op string) {
	m.numAccepted.With(metric.Labels{opLabel: op}).Inc()
}

func (m *metricsImpl) MarkRejected(op string) {
	m.numRejected.With(metric.Labels{opLabel: op}).Inc()
}

func (m *metricsImpl) ObserveMintedSupply(minted uint64) {
	m.mintedSupply.Set(float64(minted))
}

// Noop discards every observation; used when no registerer is supplied.
type Noop struct{}

func (Noop) MarkAccepted(string)        {}
func (Noop) MarkRejected(string)        {}
func (Noop) ObserveMintedSupply(uint64) {}
