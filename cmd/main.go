package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/LoveWonYoung/docan/driver"
	"github.com/LoveWonYoung/docan/filter"
	"github.com/LoveWonYoung/docan/logrecorder"
	"github.com/LoveWonYoung/docan/tp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	logger, err := logrecorder.NewLogger(logrecorder.DefaultConfig())
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := tp.LoadConfig(path)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	dir, err := cfg.Directory()
	if err != nil {
		logger.Fatal("connections", zap.Error(err))
	}
	conns := dir.Connections()
	if len(conns) == 0 {
		logger.Fatal("no connection configured")
	}
	routes := filter.FromDirectory(dir)

	var dev driver.CANDriver = openDevice(cfg, routes, logger)
	trace, err := logrecorder.OpenFrameTrace("logs", cfg.Name, logrecorder.DefaultConfig())
	if err != nil {
		logger.Fatal("frame trace", zap.Error(err))
	}
	defer trace.Close()
	dev = logrecorder.Wrap(dev, trace)

	responses := tp.NewChanListener(16)
	layer, err := tp.NewTransportLayer(dev, dir, cfg,
		tp.WithLogger(logger),
		tp.WithListener(responses),
		tp.WithMetrics(tp.NewMetrics(prometheus.DefaultRegisterer)),
		tp.WithRoutes(routes),
	)
	if err != nil {
		logger.Fatal("transport", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	served := make(chan error, 1)
	go func() {
		served <- layer.Serve(ctx, dev, time.Millisecond)
		stop()
	}()

	// 读取 VIN (0x22 F190)
	target := conns[0].TxPair()
	for {
		h, err := layer.Send(target, []byte{0x22, 0xF1, 0x90})
		if err != nil {
			logger.Fatal("send", zap.Error(err))
		}
		if o, err := h.Wait(ctx); err != nil {
			break
		} else if o != tp.Success {
			// 设备可能尚未打开
			time.Sleep(100 * time.Millisecond)
			continue
		}
		break
	}

	select {
	case msg := <-responses.C:
		logger.Info("response", zap.Stringer("pair", msg.Pair), zap.Binary("payload", msg.Payload))
	case <-time.After(2 * time.Second):
		logger.Warn("no response", zap.Stringer("pair", target))
	case <-ctx.Done():
	}
	layer.Close()
	stop()
	if err := <-served; err != nil {
		logger.Error("device", zap.Error(err))
	}
}

const slcanBitrate = 500000
