// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pegvm

import (
	"github.com/luxfi/log"

	"github.com/luxfi/pegvm/config"
)

// Factory creates peg ledger VM instances.
type Factory struct {
	config.Config
}

// New creates a new peg ledger VM instance.
func (f *Factory) New(logger log.Logger) (interface{}, error) {
	if err := f.Config.Validate(); err != nil {
		return nil, err
	}
	return &VM{
		Config: f.Config,
		log:    logger,
	}, nil
}

// NewFactory creates a factory with the given configuration.
func NewFactory(cfg config.Config) *Factory {
	return &Factory{Config: cfg}
}

// NewDefaultFactory creates a factory with default configuration.
func NewDefaultFactory() *Factory {
	return &Factory{Config: config.DefaultConfig()}
}
