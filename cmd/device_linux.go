//go:build linux

package main

import (
	"strings"

	"github.com/LoveWonYoung/docan/driver"
	"github.com/LoveWonYoung/docan/filter"
	"github.com/LoveWonYoung/docan/tp"
	"go.uber.org/zap"
)

// openDevice picks SLCAN for serial device paths and SocketCAN for interface names.
func openDevice(cfg tp.Config, routes *filter.Table, logger *zap.Logger) driver.CANDriver {
	if strings.HasPrefix(cfg.Name, "/dev/") {
		return driver.NewSLCAN(cfg.Name, slcanBitrate, driver.WithSLCANLogger(logger))
	}
	canType := driver.CAN
	if cfg.TxDataLength > driver.CAN.MaxDataLength() {
		canType = driver.CANFD
	}
	return driver.NewSocketCAN(cfg.Name,
		driver.WithCanType(canType),
		driver.WithFilters(routes.HardwareFilters()),
		driver.WithSocketLogger(logger),
	)
}
