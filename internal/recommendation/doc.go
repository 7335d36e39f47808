// Package recommendation реализует Recommendation Engine: по каждому
// ограничению формируется рекомендация с планом действий, прогнозом ROI,
// сроком, риском и приоритетом.
//
// Структура:
//   - engine.go     — Engine: Generate, GenerateAll, MarkPrimary
//   - projection.go — ROI, срок, риск, сложность, приоритет, горизонт
//   - actions.go    — action items по типу ограничения
//   - text.go       — заголовки, описания, риски, метрики успеха
package recommendation
