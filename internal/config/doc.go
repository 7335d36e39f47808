// Package config загружает конфигурацию Keystone из переменных окружения
// через caarlos0/env.
package config
