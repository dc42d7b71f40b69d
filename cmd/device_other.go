//go:build !linux

package main

import (
	"github.com/LoveWonYoung/docan/driver"
	"github.com/LoveWonYoung/docan/filter"
	"github.com/LoveWonYoung/docan/tp"
	"go.uber.org/zap"
)

func openDevice(cfg tp.Config, _ *filter.Table, logger *zap.Logger) driver.CANDriver {
	return driver.NewSLCAN(cfg.Name, slcanBitrate, driver.WithSLCANLogger(logger))
}
