package models

const (
	// OutcomeSynced means the write reached the remote store directly.
	OutcomeSynced = "synced"
	// OutcomeQueued means the write was saved locally and awaits replay.
	OutcomeQueued = "queued"
	// OutcomeFailed means the write was neither applied nor queued.
	OutcomeFailed = "failed"
)

const (
	// DefaultSnapshotTTL время жизни снапшота очереди в Redis (секунды)
	DefaultSnapshotTTL = 5 * 60

	// DefaultPollIntervalSeconds интервал фонового опроса очереди
	DefaultPollIntervalSeconds = 30

	// DefaultProbeIntervalSeconds интервал проверки доступности удалённого хранилища
	DefaultProbeIntervalSeconds = 15

	// DefaultRemoteTimeoutSeconds таймаут HTTP-запросов к удалённому хранилищу
	DefaultRemoteTimeoutSeconds = 10

	// DefaultDrainBatchLog порог, начиная с которого дренаж логируется подробнее
	DefaultDrainBatchLog = 50
)
