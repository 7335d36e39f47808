// Package constraint реализует Constraint Analysis Engine: поиск
// узких мест дебиторской задолженности тенанта.
//
// Структура:
//   - source.go    — MetricsSource, структуры метрик, StaticSource
//   - analyzers.go — шесть анализаторов: пороги активации, тяжесть, причины
//   - scoring.go   — взвешенный impact score, амплификация, confidence
//   - engine.go    — Analyzer: параллельный запуск и сборка AnalysisResult
//   - errors.go    — ErrConstraintData и DataError
//
// Анализаторы — чистые функции от метрик. Запросы к данным выполняет
// MetricsSource (repo.MetricsRepo в production).
package constraint
