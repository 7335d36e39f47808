// Package insight формирует стратегические выводы по результатам анализа
// ограничений с помощью LLM.
//
// Структура:
//   - generator.go — Generator и OpenAIGenerator (OpenAI-совместимый API)
//   - service.go   — Service: промпт, разбор JSON, детерминированный fallback
//
// LLM необязателен: без генератора или при ошибке Service возвращает
// выводы, построенные из самого анализа.
package insight
