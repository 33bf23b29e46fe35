package replicant

// State представляет состояние жизненного цикла реплики
type State string

const (
	StateInit          State = "INIT"          // процесс создан, Start не вызывался
	StateLoading       State = "LOADING"       // replay WAL, восстановление состояния
	StateBootstrapping State = "BOOTSTRAPPING" // загрузка снимка с хаба
	StateSyncing       State = "SYNCING"       // WebSocket подключен, живой merge
	StateReconnecting  State = "RECONNECTING"  // потеря сети, локальные вызовы работают
	StateStopped       State = "STOPPED"       // процесс остановлен
)
