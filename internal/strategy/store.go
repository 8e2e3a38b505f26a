package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a strategy id does not exist.
var ErrNotFound = errors.New("strategy not found")

type strategyModel struct {
	ID          string `gorm:"primaryKey;column:id"`
	Name        string `gorm:"column:name;not null"`
	Description string `gorm:"column:description"`
	ConfigJSON  string `gorm:"column:config_json"`
	EntryJSON   string `gorm:"column:entry_json;not null"`
	ExitJSON    string `gorm:"column:exit_json;not null"`
	IsActive    bool   `gorm:"column:is_active"`
	IsPublic    bool   `gorm:"column:is_public"`
	Owner       string `gorm:"column:owner"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (strategyModel) TableName() string { return "strategies" }

// Store persists the strategy catalog with Gorm + SQLite.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("strategy store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&strategyModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save inserts or updates a strategy; a missing id is assigned.
func (s *Store) Save(ctx context.Context, st *Strategy) error {
	if st == nil {
		return fmt.Errorf("strategy cannot be nil")
	}
	if err := st.Validate(); err != nil {
		return err
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	model, err := toModel(st)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(model).Error
}

// Get loads one strategy by id.
func (s *Store) Get(ctx context.Context, id string) (Strategy, error) {
	var model strategyModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Strategy{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Strategy{}, err
	}
	return fromModel(model)
}

// List returns the catalog, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Strategy, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []strategyModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Strategy, 0, len(models))
	for _, m := range models {
		st, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Delete removes a strategy by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&strategyModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func toModel(st *Strategy) (*strategyModel, error) {
	entryJSON, err := json.Marshal(st.EntryRules)
	if err != nil {
		return nil, err
	}
	exitJSON, err := json.Marshal(st.ExitRules)
	if err != nil {
		return nil, err
	}
	var cfgJSON []byte
	if len(st.Config) > 0 {
		cfgJSON, err = json.Marshal(st.Config)
		if err != nil {
			return nil, err
		}
	}
	return &strategyModel{
		ID:          st.ID,
		Name:        st.Name,
		Description: st.Description,
		ConfigJSON:  string(cfgJSON),
		EntryJSON:   string(entryJSON),
		ExitJSON:    string(exitJSON),
		IsActive:    st.IsActive,
		IsPublic:    st.IsPublic,
		Owner:       st.Owner,
		CreatedAt:   st.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
	}, nil
}

func fromModel(m strategyModel) (Strategy, error) {
	st := Strategy{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		IsActive:    m.IsActive,
		IsPublic:    m.IsPublic,
		Owner:       m.Owner,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(m.ConfigJSON), &st.Config); err != nil {
			return Strategy{}, fmt.Errorf("strategy %s config corrupt: %w", m.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(m.EntryJSON), &st.EntryRules); err != nil {
		return Strategy{}, fmt.Errorf("strategy %s entry rules corrupt: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(m.ExitJSON), &st.ExitRules); err != nil {
		return Strategy{}, fmt.Errorf("strategy %s exit rules corrupt: %w", m.ID, err)
	}
	return st, nil
}
