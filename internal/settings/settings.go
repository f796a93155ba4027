// Package settings persists opaque per-connector key/value configuration
// (spec.md §6 "Persisted state: settings are serialized key/value per
// connector; no persistence of market data. Layout is opaque.").
package settings

import (
	"encoding/json"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Setting is one opaque key/value row scoped to a connector. Value is stored
// as a JSON blob so callers can persist arbitrary structured state without
// the store needing to understand its shape.
type Setting struct {
	ID        uint   `gorm:"primarykey"`
	Connector string `gorm:"index:idx_connector_key,unique"`
	Key       string `gorm:"index:idx_connector_key,unique"`
	Value     string // opaque JSON
}

// TableName pins the table name regardless of GORM's pluralization rules.
func (Setting) TableName() string { return "connector_settings" }

// Store persists Setting rows via GORM/Postgres.
type Store struct {
	db *gorm.DB
}

// Config configures the Postgres connection a Store opens.
type Config struct {
	DSN         string
	SilentLog   bool
}

// Open connects to Postgres and migrates the settings table.
func Open(cfg Config) (*Store, error) {
	gormCfg := &gorm.Config{}
	if cfg.SilentLog {
		gormCfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("settings: open: %w", err)
	}
	if err := db.AutoMigrate(&Setting{}); err != nil {
		return nil, fmt.Errorf("settings: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Get unmarshals the value stored at (connector, key) into dst. Returns
// gorm.ErrRecordNotFound if no such setting exists.
func (s *Store) Get(connector, key string, dst interface{}) error {
	var row Setting
	if err := s.db.Where("connector = ? AND key = ?", connector, key).First(&row).Error; err != nil {
		return err
	}
	return json.Unmarshal([]byte(row.Value), dst)
}

// Set upserts the value at (connector, key), marshaling it to JSON.
func (s *Store) Set(connector, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	row := Setting{Connector: connector, Key: key, Value: string(payload)}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connector"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
}

// Delete removes the setting at (connector, key), if any.
func (s *Store) Delete(connector, key string) error {
	return s.db.Where("connector = ? AND key = ?", connector, key).Delete(&Setting{}).Error
}

// List returns every key persisted for connector.
func (s *Store) List(connector string) ([]string, error) {
	var rows []Setting
	if err := s.db.Where("connector = ?", connector).Find(&rows).Error; err != nil {
		return nil, err
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys, nil
}
