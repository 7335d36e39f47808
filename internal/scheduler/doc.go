// Package scheduler периодически запускает auto-orchestration.
//
// На каждом тике по cron-расписанию Scheduler вызывает AutoOrchestrate
// для каждого настроенного тенанта. Ошибка одного тенанта логируется
// и не мешает остальным.
//
// Структура:
//   - scheduler.go — Scheduler (Start, Stop, Tick)
//   - cron.go      — парсинг cron-выражений и адаптер логгера
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Orchestrator: hub,
//	    CronExpr:     "*/15 * * * *",
//	    Tenants:      []string{"t1", "t2"},
//	    Logger:       logger,
//	})
//	if err := sched.Start(ctx); err != nil {
//	    return err
//	}
//	defer sched.Stop()
//
// Leader Election:
//
// При нескольких hub-процессах тик выполняет только владелец
// pg_try_advisory_lock (Config.Leader, реализуется repo.AdvisoryLock).
// Без Leader тик выполняет каждый процесс.
package scheduler
