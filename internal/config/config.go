// Package config содержит конфигурацию процесса Replicant.
// Значения приходят из флагов командной строки; валидация обязана
// пройти до того, как процесс станет готов принимать команды.
package config

import (
	"fmt"
	"time"
)

// Config представляет полную конфигурацию одного процесса Replicant
type Config struct {
	AgentID    string // идентификатор агента (обязателен)
	InstanceID string // идентификатор инстанса (обязателен)
	HTTPSBase  string // базовый URL snapshot endpoint'а хаба (обязателен)
	CRDTWs     string // базовый WebSocket URL delta endpoint'а хаба (обязателен)
	StorageDir string // директория для WAL и metadata (обязательна)

	MetricsAddr string // адрес /metrics listener'а (пусто = выключено)
	LogLevel    string // debug, info, warn или error

	Quorum        float64       // доля взвешенной поддержки для разрешения poll
	PollTimeout   time.Duration // таймаут бездействия poll
	StaleAfter    time.Duration // возраст локального состояния, после которого нужен bootstrap
	FlushInterval time.Duration // период отправки outbox
	MaxBackoff    time.Duration // потолок backoff переподключения
	StopTimeout   time.Duration // лимит времени на финальный flush при остановке
}

// Default возвращает конфигурацию со значениями по умолчанию
// для всех необязательных параметров.
func Default() Config {
	return Config{
		LogLevel:      "info",
		Quorum:        2.0 / 3.0,
		PollTimeout:   5 * time.Minute,
		StaleAfter:    24 * time.Hour,
		FlushInterval: 2 * time.Second,
		MaxBackoff:    30 * time.Second,
		StopTimeout:   5 * time.Second,
	}
}

// Validate проверяет конфигурацию. Отсутствие обязательного флага —
// фатальная ошибка старта.
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("missing required flag: --agentId")
	}
	if c.InstanceID == "" {
		return fmt.Errorf("missing required flag: --instanceId")
	}
	if c.HTTPSBase == "" {
		return fmt.Errorf("missing required flag: --httpsBase")
	}
	if c.CRDTWs == "" {
		return fmt.Errorf("missing required flag: --crdtWs")
	}
	if c.StorageDir == "" {
		return fmt.Errorf("missing required flag: --storageDir")
	}
	if c.Quorum <= 0 || c.Quorum >= 1 {
		return fmt.Errorf("quorum must be in (0, 1), got %v", c.Quorum)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %v", c.FlushInterval)
	}
	if c.MaxBackoff <= 0 {
		return fmt.Errorf("max backoff must be positive, got %v", c.MaxBackoff)
	}
	return nil
}
