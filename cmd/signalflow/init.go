package main

import (
	"context"

	"signalflow/conf"
	"signalflow/internal/dao"
	"signalflow/internal/engine"
	"signalflow/internal/exchange/bitget"
	"signalflow/internal/handler/message"
	"signalflow/internal/monitor"
	"signalflow/internal/notify"
	"signalflow/internal/parser"
	"signalflow/internal/risk"
	"signalflow/internal/router"
	"signalflow/pkg/kafka"
	"signalflow/pkg/logger"

	"gorm.io/gorm"
)

// app 汇总需要随进程生命周期管理的组件
type app struct {
	router   Router
	monitor  *monitor.Monitor
	producer kafka.ProducerService
}

// initApp 装配整个执行管道：
// 解析器、风控、交易所客户端、价格监控、通知与落库全部在这里接线
func initApp(cfg *conf.Config, db *gorm.DB) (*app, error) {
	client, err := bitget.NewClient(cfg.Bitget, cfg.Trading)
	if err != nil {
		return nil, err
	}

	p := parser.NewParser(cfg.Trading)
	riskMgr := risk.NewManager(cfg.Trading)
	recent := monitor.NewRecentSignalContext(cfg.Monitor.ContextSize, cfg.Monitor.ContextWindow)
	mon := monitor.NewMonitor(client, recent, cfg.Monitor)

	var notifier notify.Notifier = notify.LogNotifier{}
	var producer kafka.ProducerService
	if cfg.Kafka.Broker != "" {
		producer = kafka.NewKafkaProducer(cfg.Kafka.Broker, cfg.Kafka.Topic)
		notifier = notify.NewKafkaNotifier(producer)
		logger.Info("kafka通知已启用", logger.Pair("broker", cfg.Kafka.Broker))
	}

	var engOpts []engine.Option
	var mhOpts []message.Option
	if db != nil {
		signalDao, tradeDao := dao.NewSignalDao(db), dao.NewTradeDao(db)
		engOpts = append(engOpts, engine.WithDao(signalDao, tradeDao))
		mhOpts = append(mhOpts, message.WithDao(signalDao, tradeDao))
	}
	eng := engine.NewEngine(cfg.Trading, p, riskMgr, client, mon, notifier, cfg.Monitor.ContextWindow, engOpts...)

	mon.Start(context.Background())

	mh := message.NewHandler(eng, riskMgr, mon, client, mhOpts...)
	return &app{
		router:   router.NewApiRouter(mh, cfg.Webhook),
		monitor:  mon,
		producer: producer,
	}, nil
}

func (a *app) shutdown() {
	a.monitor.Stop()
	if a.producer != nil {
		a.producer.Close()
	}
	logger.Sync()
}
