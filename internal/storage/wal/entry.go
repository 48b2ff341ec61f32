// Пакет wal — журнал незавершённых загрузок.
// Запись создаётся до появления директории загрузки и удаляется после
// того, как запись в хранилище сохранена или директория убрана.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в SH_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип операции загрузки.
type OperationType string

const (
	// OpIngestCreate — создание новой записи
	OpIngestCreate OperationType = "ingest_create"
	// OpIngestUpdate — замена контента существующей записи
	OpIngestUpdate OperationType = "ingest_update"
)

// Entry — запись журнала. Пока файл существует, загрузка считается незавершённой.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	Operation OperationType `json:"operation"`

	// UploadDir — директория загрузки, которой владеет транзакция
	UploadDir string `json:"upload_dir"`

	// Slug — slug записи; для создания со случайным slug может быть пуст
	Slug string `json:"slug,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

const fileSuffix = ".wal.json"

func walFileName(txID string) string {
	return txID + fileSuffix
}
