package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/pkg/db"
)

// SnapshotModel 快照表
type SnapshotModel struct {
	ID        uint      `gorm:"primarykey"`
	Key       string    `gorm:"column:snapshot_key;type:varchar(128);uniqueIndex;not null;comment:快照键"`
	Payload   []byte    `gorm:"column:payload;type:longblob;not null;comment:快照内容"`
	Size      int       `gorm:"column:size;not null;comment:字节数"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (SnapshotModel) TableName() string { return "exchange_snapshots" }

// MySQLStore 快照存于 MySQL，按键 upsert
type MySQLStore struct {
	db     *db.DB
	prefix string
}

// NewMySQLStore 创建 MySQL 快照存储并自动迁移表结构
func NewMySQLStore(ctx context.Context, database *db.DB, prefix string) (*MySQLStore, error) {
	if err := database.WithContext(ctx).AutoMigrate(&SnapshotModel{}); err != nil {
		return nil, fmt.Errorf("migrate exchange_snapshots: %w", err)
	}
	return &MySQLStore{db: database, prefix: prefix}, nil
}

func (s *MySQLStore) Save(ctx context.Context, key string, data []byte) error {
	m := &SnapshotModel{Key: s.prefix + key, Payload: data, Size: len(data)}
	return s.db.UpsertWithConflict(ctx, m, []string{"snapshot_key"}, []string{"payload", "size", "updated_at"})
}

func (s *MySQLStore) Load(ctx context.Context, key string) ([]byte, error) {
	var m SnapshotModel
	err := s.db.WithContext(ctx).Where("snapshot_key = ?", s.prefix+key).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.Payload, nil
}
