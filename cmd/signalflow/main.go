package main

import (
	"flag"
	"log"

	"signalflow/conf"
	"signalflow/pkg/db"
	"signalflow/pkg/logger"

	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("c", "conf/config.yaml", "配置文件路径")
	flag.Parse()

	if err := conf.LoadConfig(*configPath); err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	logger.Init(conf.AppConfig.Log)

	// 未配置数据库时跳过落库，只走内存流程
	var gdb *gorm.DB
	if conf.AppConfig.Db.Host != "" {
		gdb = db.Init(db.NewConfig(
			conf.AppConfig.Db.Username,
			conf.AppConfig.Db.Password,
			conf.AppConfig.Db.Host,
			conf.AppConfig.Db.Port,
			conf.AppConfig.Db.DbName,
		))
	}

	a, err := initApp(&conf.AppConfig, gdb)
	if err != nil {
		logger.Fatal("初始化失败", logger.Pair("error", err.Error()))
	}

	srv := NewServer(&conf.AppConfig)
	srv.RegisterOnShutdown(a.shutdown)
	srv.Run(a.router)
}
