package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/pcbuilder/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

type BuildRepository struct {
	db *gorm.DB
}

func Open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
}

func NewBuildRepository(db *gorm.DB) *BuildRepository {
	return &BuildRepository{db: db}
}

func (r *BuildRepository) CreateSession(ctx context.Context, value domain.BuildSession) (domain.BuildSession, error) {
	m := BuildSessionModel{ID: value.ID, Brand: value.Brand, State: defaultString(value.State, "empty")}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.BuildSession{}, err
	}
	return toSession(m), nil
}

func (r *BuildRepository) GetSession(ctx context.Context, id string) (domain.BuildSession, error) {
	var m BuildSessionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.BuildSession{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return domain.BuildSession{}, err
	}
	return toSession(m), nil
}

func (r *BuildRepository) ListSessions(ctx context.Context, limit int) ([]domain.BuildSession, error) {
	rows := make([]BuildSessionModel, 0)
	if err := r.db.WithContext(ctx).Order("updated_at DESC").Order("id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.BuildSession, 0, len(rows))
	for _, m := range rows {
		result = append(result, toSession(m))
	}
	return result, nil
}

func (r *BuildRepository) UpdateSession(ctx context.Context, id, brand, state string) error {
	res := r.db.WithContext(ctx).Model(&BuildSessionModel{}).Where("id = ?", id).Updates(map[string]any{
		"brand":      brand,
		"state":      state,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return nil
}

func (r *BuildRepository) CreateVerificationRun(ctx context.Context, value domain.VerificationRun) (domain.VerificationRun, error) {
	encoded, err := json.Marshal(nonNil(value.Errors))
	if err != nil {
		return domain.VerificationRun{}, err
	}
	m := VerificationRunModel{
		SessionID:     value.SessionID,
		SelectionHash: value.SelectionHash,
		OK:            value.OK,
		Errors:        string(encoded),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.VerificationRun{}, err
	}
	return toVerificationRun(m), nil
}

func (r *BuildRepository) ListVerificationRuns(ctx context.Context, sessionID string, limit int) ([]domain.VerificationRun, error) {
	rows := make([]VerificationRunModel, 0)
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.VerificationRun, 0, len(rows))
	for _, m := range rows {
		result = append(result, toVerificationRun(m))
	}
	return result, nil
}

func (r *BuildRepository) CreateDraftRecord(ctx context.Context, value domain.DraftRecord) (domain.DraftRecord, error) {
	m := DraftRecordModel{
		SessionID: value.SessionID,
		BuildID:   value.BuildID,
		Subtotal:  value.Subtotal.String(),
		Total:     value.Total.String(),
		Snapshot:  value.Snapshot,
		Status:    defaultString(value.Status, "draft"),
		Message:   value.Message,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.DraftRecord{}, err
	}
	return toDraftRecord(m), nil
}

func (r *BuildRepository) MarkDraftSubmitted(ctx context.Context, buildID, message string) (domain.DraftRecord, error) {
	var out domain.DraftRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m DraftRecordModel
		if err := tx.Where("build_id = ?", buildID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrBuildNotFound, buildID)
			}
			return err
		}
		now := time.Now().UTC()
		m.Status = "submitted"
		m.Message = message
		m.SubmittedAt = &now
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		out = toDraftRecord(m)
		return nil
	})
	return out, err
}

func (r *BuildRepository) ListDraftRecords(ctx context.Context, sessionID string, limit int) ([]domain.DraftRecord, error) {
	rows := make([]DraftRecordModel, 0)
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.DraftRecord, 0, len(rows))
	for _, m := range rows {
		result = append(result, toDraftRecord(m))
	}
	return result, nil
}

func toSession(m BuildSessionModel) domain.BuildSession {
	return domain.BuildSession{ID: m.ID, Brand: m.Brand, State: m.State, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

func toVerificationRun(m VerificationRunModel) domain.VerificationRun {
	var errs []string
	_ = json.Unmarshal([]byte(m.Errors), &errs)
	return domain.VerificationRun{
		ID:            m.ID,
		SessionID:     m.SessionID,
		SelectionHash: m.SelectionHash,
		OK:            m.OK,
		Errors:        errs,
		CreatedAt:     m.CreatedAt,
	}
}

func toDraftRecord(m DraftRecordModel) domain.DraftRecord {
	return domain.DraftRecord{
		ID:          m.ID,
		SessionID:   m.SessionID,
		BuildID:     m.BuildID,
		Subtotal:    parseDecimal(m.Subtotal),
		Total:       parseDecimal(m.Total),
		Snapshot:    m.Snapshot,
		Status:      m.Status,
		Message:     m.Message,
		CreatedAt:   m.CreatedAt,
		SubmittedAt: m.SubmittedAt,
	}
}

func parseDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func defaultString(input, fallback string) string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}

	return input
}
