// Package cli реализует инструмент командной строки Keystone.
//
// # Обзор
//
// CLI выполняет операции фасада Orchestration Hub в своём процессе,
// против тех же хранилищ, что и hub-процесс. Движок workflow в CLI
// не запускается: созданные executions и сигналы сохраняются в Postgres
// и подхватываются hub-процессом при следующем polling.
//
// # Ключевые компоненты
//
// ## Hub
//
// Интерфейс операций фасада (реализуется *orchestration.Service).
// Создаётся лениво через HubFunc после парсинга PersistentFlags,
// поэтому --help не требует подключения к БД.
//
// ## Broker
//
// Публикация в RabbitMQ (реализуется *mq.Publisher). Используется
// командами, которые доставляет hub-процесс:
// workflow signal --via-broker и event publish.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.Encoder) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: keystone analyze --tenant t1 --json | jq .
//
// ## Commands
//
//   - analyze, recommend, focus, auto, metrics — стратегия по тенанту
//   - workflow: start, status, cancel, signal, list
//   - event: publish
//   - health
package cli
