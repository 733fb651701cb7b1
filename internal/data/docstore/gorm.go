package docstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

const scanBatchSize = 200

// Document is the single table behind the SQL store.
type Document struct {
	Collection string         `gorm:"column:collection;primaryKey;size:64" json:"collection"`
	ID         string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	Version    int64          `gorm:"column:version;not null" json:"version"`
	Data       datatypes.JSON `gorm:"column:data;not null" json:"data"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (Document) TableName() string { return "documents" }

type gormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewGormStore expects the documents table to exist (see db.AutoMigrateAll).
func NewGormStore(db *gorm.DB, log *logger.Logger) Store {
	return &gormStore{db: db, log: log.With("store", "GormDocStore")}
}

func (s *gormStore) conn(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = s.db
	}
	if dbc.Ctx != nil {
		txx = txx.WithContext(dbc.Ctx)
	}
	return txx
}

func (s *gormStore) Get(dbc dbctx.Context, collection, id string) (*Record, error) {
	var doc Document
	err := s.conn(dbc).
		Where("collection = ? AND id = ?", collection, id).
		Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc.record(), nil
}

func (s *gormStore) Put(dbc dbctx.Context, collection string, rec Record) (*Record, error) {
	var out *Record
	err := s.conn(dbc).Transaction(func(tx *gorm.DB) error {
		stored, err := upsert(tx, collection, rec)
		out = stored
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("put %s/%s: %w", collection, rec.ID, err)
	}
	return out, nil
}

func (s *gormStore) ConditionalPut(dbc dbctx.Context, collection string, rec Record, expectedVersion int64, also ...Write) (*Record, error) {
	var out *Record
	err := s.conn(dbc).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if expectedVersion == 0 {
			doc := Document{Collection: collection, ID: rec.ID, Version: 1, Data: nonNullJSON(rec.Data), CreatedAt: now, UpdatedAt: now}
			if err := tx.Create(&doc).Error; err != nil {
				if isUniqueViolation(err) {
					return ErrVersionMismatch
				}
				return err
			}
			out = doc.record()
		} else {
			res := tx.Model(&Document{}).
				Where("collection = ? AND id = ? AND version = ?", collection, rec.ID, expectedVersion).
				Updates(map[string]interface{}{
					"data":       nonNullJSON(rec.Data),
					"version":    expectedVersion + 1,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrVersionMismatch
			}
			out = &Record{ID: rec.ID, Version: expectedVersion + 1, Data: cloneData(rec.Data), UpdatedAt: now}
		}
		for _, w := range also {
			if w.Delete {
				if err := tx.Where("collection = ? AND id = ?", w.Collection, w.Record.ID).Delete(&Document{}).Error; err != nil {
					return err
				}
				continue
			}
			if _, err := upsert(tx, w.Collection, w.Record); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrVersionMismatch) {
		return nil, ErrVersionMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("conditional put %s/%s: %w", collection, rec.ID, err)
	}
	return out, nil
}

func (s *gormStore) Delete(dbc dbctx.Context, collection, id string) error {
	res := s.conn(dbc).Where("collection = ? AND id = ?", collection, id).Delete(&Document{})
	if res.Error != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) Scan(dbc dbctx.Context, collection string, fn func(Record) error) error {
	var batch []Document
	res := s.conn(dbc).
		Where("collection = ?", collection).
		FindInBatches(&batch, scanBatchSize, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				if err := fn(*batch[i].record()); err != nil {
					return err
				}
			}
			return nil
		})
	if res.Error != nil {
		return fmt.Errorf("scan %s: %w", collection, res.Error)
	}
	return nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// upsert bumps the version of an existing row or inserts version 1. Must run
// inside a transaction.
func upsert(tx *gorm.DB, collection string, rec Record) (*Record, error) {
	now := time.Now().UTC()
	res := tx.Model(&Document{}).
		Where("collection = ? AND id = ?", collection, rec.ID).
		Updates(map[string]interface{}{
			"data":       nonNullJSON(rec.Data),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		doc := Document{Collection: collection, ID: rec.ID, Version: 1, Data: nonNullJSON(rec.Data), CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(&doc).Error; err != nil {
			return nil, err
		}
		return doc.record(), nil
	}
	var doc Document
	if err := tx.Where("collection = ? AND id = ?", collection, rec.ID).Take(&doc).Error; err != nil {
		return nil, err
	}
	return doc.record(), nil
}

func (d *Document) record() *Record {
	return &Record{ID: d.ID, Version: d.Version, Data: cloneData(d.Data), UpdatedAt: d.UpdatedAt}
}

func nonNullJSON(d datatypes.JSON) datatypes.JSON {
	if len(d) == 0 {
		return datatypes.JSON([]byte("{}"))
	}
	return d
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
