// Package repository archives alerts in Postgres.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"touristguard/internal/domain"
)

type AlertRecord struct {
	bun.BaseModel `bun:"table:alerts,alias:a"`

	ID            string     `bun:"id,pk"`
	TouristID     string     `bun:"tourist_id,notnull"`
	Type          string     `bun:"type,notnull"`
	Severity      string     `bun:"severity,notnull"`
	Message       string     `bun:"message,notnull"`
	Timestamp     time.Time  `bun:"timestamp,notnull"`
	Lat           *float64   `bun:"lat"`
	Lng           *float64   `bun:"lng"`
	Resolved      bool       `bun:"resolved,notnull,default:false"`
	ResolvedAt    *time.Time `bun:"resolved_at"`
	RelatedZoneID string     `bun:"related_zone_id,nullzero"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func recordFromAlert(a domain.Alert) *AlertRecord {
	rec := &AlertRecord{
		ID:            a.ID,
		TouristID:     a.TouristID,
		Type:          string(a.Type),
		Severity:      string(a.Severity),
		Message:       a.Message,
		Timestamp:     a.Timestamp.UTC(),
		Resolved:      a.Resolved,
		ResolvedAt:    a.ResolvedAt,
		RelatedZoneID: a.RelatedZoneID,
	}
	if a.Location != nil {
		lat, lng := a.Location.Lat, a.Location.Lng
		rec.Lat, rec.Lng = &lat, &lng
	}
	return rec
}

func (r *AlertRecord) toAlert() domain.Alert {
	a := domain.Alert{
		ID:            r.ID,
		TouristID:     r.TouristID,
		Type:          domain.AlertType(r.Type),
		Severity:      domain.Severity(r.Severity),
		Message:       r.Message,
		Timestamp:     r.Timestamp,
		Resolved:      r.Resolved,
		ResolvedAt:    r.ResolvedAt,
		RelatedZoneID: r.RelatedZoneID,
	}
	if r.Lat != nil && r.Lng != nil {
		a.Location = &domain.Coordinate{Lat: *r.Lat, Lng: *r.Lng}
	}
	return a
}

// AlertRepository reads and writes the alerts table.
type AlertRepository struct {
	db *bun.DB
}

func NewAlertRepository(db *bun.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// CreateSchema creates the alerts table and its indexes if missing.
func (r *AlertRepository) CreateSchema(ctx context.Context) error {
	if _, err := r.db.NewCreateTable().
		Model((*AlertRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create alerts table: %w", err)
	}
	if _, err := r.db.NewCreateIndex().
		Model((*AlertRecord)(nil)).
		Index("alerts_tourist_ts_idx").
		Column("tourist_id", "timestamp").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create alerts index: %w", err)
	}
	return nil
}

// upsertQuery inserts the alert or merges it into the archived row. The
// resolved flag only ever moves from false to true, so a late or replayed
// insert cannot reopen a resolved alert.
func (r *AlertRepository) upsertQuery(a domain.Alert) *bun.InsertQuery {
	return r.db.NewInsert().
		Model(recordFromAlert(a)).
		On("CONFLICT (id) DO UPDATE").
		Set("resolved = a.resolved OR EXCLUDED.resolved").
		Set("resolved_at = COALESCE(a.resolved_at, EXCLUDED.resolved_at)")
}

// Save archives the alert, merging with an existing row of the same id.
func (r *AlertRepository) Save(ctx context.Context, a domain.Alert) error {
	_, err := r.upsertQuery(a).Exec(ctx)
	return err
}

// ListByTourist returns the tourist's archived alerts, newest first.
func (r *AlertRepository) ListByTourist(ctx context.Context, touristID string, limit int) ([]domain.Alert, error) {
	var records []AlertRecord
	q := r.db.NewSelect().
		Model(&records).
		Where("tourist_id = ?", touristID).
		Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return toAlerts(records), nil
}

// ListUnresolved returns open alerts oldest first, used to restore the
// in-memory log on startup.
func (r *AlertRepository) ListUnresolved(ctx context.Context, limit int) ([]domain.Alert, error) {
	var records []AlertRecord
	q := r.db.NewSelect().
		Model(&records).
		Where("resolved = ?", false).
		Order("timestamp ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return toAlerts(records), nil
}

func toAlerts(records []AlertRecord) []domain.Alert {
	alerts := make([]domain.Alert, len(records))
	for i := range records {
		alerts[i] = records[i].toAlert()
	}
	return alerts
}

// Archive adapts the repository to the alert sink and resolve listener
// contracts. Failures are logged, never returned.
type Archive struct {
	repo    *AlertRepository
	timeout time.Duration
	logger  *slog.Logger
}

func NewArchive(repo *AlertRepository, logger *slog.Logger) *Archive {
	return &Archive{
		repo:    repo,
		timeout: 5 * time.Second,
		logger:  logger.With("component", "alert_archive"),
	}
}

func (a *Archive) Publish(alert domain.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.repo.Save(ctx, alert); err != nil {
		a.logger.Error("failed to archive alert", "alert_id", alert.ID, "error", err)
	}
}

// AlertResolved upserts the resolved alert, so it lands even when the
// original insert was lost or has not been written yet.
func (a *Archive) AlertResolved(alert domain.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.repo.Save(ctx, resolved(alert, time.Now())); err != nil {
		a.logger.Error("failed to archive resolution", "alert_id", alert.ID, "error", err)
	}
}

func resolved(alert domain.Alert, now time.Time) domain.Alert {
	alert.Resolved = true
	if alert.ResolvedAt == nil {
		at := now.UTC()
		alert.ResolvedAt = &at
	}
	return alert
}
