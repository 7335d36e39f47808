// Package bootstrap собирает компоненты хаба из config.Config.
//
// Используется hub-процессом и CLI: оба работают с одними и теми же
// хранилищами и фасадом orchestration.Service.
//
//	hub, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Broker: true, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer hub.Close()
//
// При WORKFLOW_STORE=memory Postgres не открывается: executions живут
// в памяти процесса, а анализ ограничений не имеет источника метрик.
package bootstrap
