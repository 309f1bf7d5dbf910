package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Gopher0727/PortalChat/config"
)

// cacheRecord is the row layout of the cache_records table.
type cacheRecord struct {
	Kind     string `gorm:"primaryKey;size:16"`
	ID       string `gorm:"primaryKey;size:191"`
	GroupID  string `gorm:"index;size:191"`
	Data     []byte
	CachedAt int64 // unix nanos
}

func (cacheRecord) TableName() string {
	return "cache_records"
}

// SQLStore is a gorm-backed Store. Any SQL dialect gorm supports works; the
// CLI wires it to postgres.
type SQLStore struct {
	db   *gorm.DB
	opts options
}

// BuildDSN 构建PostgreSQL DSN
func BuildDSN(cfg *config.PostgresConfig) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)
}

// OpenPostgres connects, sizes the pool and migrates cache_records.
func OpenPostgres(cfg *config.PostgresConfig, opts ...Option) (*SQLStore, error) {
	o := buildOptions(opts)
	db, err := gorm.Open(postgres.Open(BuildDSN(cfg)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		o.logger.Error("failed to connect to postgres", zap.String("host", cfg.Host), zap.Error(err))
		return nil, unavailable("open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, unavailable("open", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	return NewSQLStore(db, opts...)
}

// NewSQLStore adopts an open gorm handle and migrates the schema.
func NewSQLStore(db *gorm.DB, opts ...Option) (*SQLStore, error) {
	o := buildOptions(opts)
	if err := db.AutoMigrate(&cacheRecord{}); err != nil {
		o.logger.Error("cache_records migration failed", zap.Error(err))
		return nil, unavailable("migrate", err)
	}
	return &SQLStore{db: db, opts: o}, nil
}

func (s *SQLStore) Put(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	rec.CachedAt = s.opts.now()
	row := cacheRecord{
		Kind:     string(rec.Kind),
		ID:       rec.ID,
		GroupID:  rec.GroupID,
		Data:     rec.Data,
		CachedAt: rec.CachedAt.UnixNano(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"group_id", "data", "cached_at"}),
	}).Create(&row).Error
	if err != nil {
		s.opts.logger.Error("sql put failed", zap.String("kind", row.Kind), zap.String("id", row.ID), zap.Error(err))
		return unavailable("put", err)
	}
	return nil
}

func (r *cacheRecord) toRecord() *Record {
	return &Record{
		Kind:     Kind(r.Kind),
		ID:       r.ID,
		GroupID:  r.GroupID,
		Data:     r.Data,
		CachedAt: unixNanos(r.CachedAt),
	}
}

func (s *SQLStore) Get(ctx context.Context, kind Kind, id string) (*Record, error) {
	var row cacheRecord
	err := s.db.WithContext(ctx).Where("kind = ? AND id = ?", string(kind), id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return row.toRecord(), nil
}

func (s *SQLStore) find(ctx context.Context, op string, query string, args ...any) ([]*Record, error) {
	var rows []cacheRecord
	if err := s.db.WithContext(ctx).Where(query, args...).Find(&rows).Error; err != nil {
		return nil, unavailable(op, err)
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

func (s *SQLStore) GetAll(ctx context.Context, kind Kind) ([]*Record, error) {
	return s.find(ctx, "get all", "kind = ?", string(kind))
}

func (s *SQLStore) GetByGroup(ctx context.Context, groupID string) ([]*Record, error) {
	return s.find(ctx, "get by group", "kind = ? AND group_id = ?", string(KindMessage), groupID)
}

func (s *SQLStore) Remove(ctx context.Context, kind Kind, id string) error {
	err := s.db.WithContext(ctx).Where("kind = ? AND id = ?", string(kind), id).Delete(&cacheRecord{}).Error
	if err != nil {
		return unavailable("remove", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
