package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jonesrussell/amplify/internal/database"
	"github.com/jonesrussell/amplify/internal/domain"
)

func TestMetricsRepository_GetAggregate(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewMetricsRepository(sqlxDB)
	ctx := context.Background()
	now := time.Now()

	t.Run("returns the aggregate", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{
			"post_id", "window", "engagement_rate", "conversion_rate",
			"viral_coefficient", "reach", "comments", "confidence",
			"sample_count", "updated_at",
		}).AddRow("post-1", "lifetime", 0.08, 0.01, 1.5, int64(4000), int64(32), 0.9, 3, now)
		mock.ExpectQuery("SELECT (.+) FROM metric_aggregates").
			WithArgs("post-1", domain.AggregateWindowLifetime).
			WillReturnRows(rows)

		agg, err := repo.GetAggregate(ctx, "post-1", domain.AggregateWindowLifetime)
		if err != nil {
			t.Fatalf("GetAggregate() error = %v", err)
		}
		if agg.Reach != 4000 || agg.EngagementRate != 0.08 {
			t.Errorf("GetAggregate() = %+v", agg)
		}
	})

	t.Run("missing aggregate reports not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM metric_aggregates").
			WithArgs("post-2", domain.AggregateWindowLifetime).
			WillReturnRows(sqlmock.NewRows([]string{"post_id"}))

		_, err := repo.GetAggregate(ctx, "post-2", domain.AggregateWindowLifetime)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("GetAggregate() error = %v, want ErrNotFound", err)
		}
	})

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestMetricsRepository_UpsertAggregate(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewMetricsRepository(sqlxDB)
	ctx := context.Background()

	agg := &domain.MetricAggregate{
		PostID:         "post-1",
		Window:         domain.AggregateWindowLifetime,
		EngagementRate: 0.08,
		Reach:          4000,
		Confidence:     0.9,
		SampleCount:    3,
		UpdatedAt:      time.Now(),
	}

	mock.ExpectExec("INSERT INTO metric_aggregates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpsertAggregate(ctx, agg); err != nil {
		t.Fatalf("UpsertAggregate() error = %v", err)
	}
	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestMetricsRepository_InsertClicks(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewMetricsRepository(sqlxDB)
	ctx := context.Background()
	now := time.Now()

	t.Run("empty batch is a no-op", func(t *testing.T) {
		if err := repo.InsertClicks(ctx, nil); err != nil {
			t.Fatalf("InsertClicks() error = %v", err)
		}
	})

	t.Run("rolls back when an insert fails", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO click_events").
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		events := []domain.ClickEvent{
			{PostID: "post-1", TargetHash: "abc123def456", ClickedAt: now},
		}
		if err := repo.InsertClicks(ctx, events); err == nil {
			t.Fatal("InsertClicks() error = nil, want failure")
		}
	})

	t.Run("inserts the batch in one transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO click_events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO click_events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		events := []domain.ClickEvent{
			{PostID: "post-1", TargetHash: "abc123def456", ClickedAt: now},
			{PostID: "post-1", TargetHash: "abc123def456", Converted: true, ClickedAt: now},
		}
		if err := repo.InsertClicks(ctx, events); err != nil {
			t.Fatalf("InsertClicks() error = %v", err)
		}
		if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
			t.Errorf("unfulfilled expectations: %v", expectErr)
		}
	})
}

func TestMetricsRepository_CountClicks(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewMetricsRepository(sqlxDB)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"clicks", "conversions"}).
		AddRow(int64(48), int64(7))
	mock.ExpectQuery("SELECT (.+) FROM click_events").
		WithArgs("post-1").
		WillReturnRows(rows)

	counts, err := repo.CountClicks(ctx, "post-1")
	if err != nil {
		t.Fatalf("CountClicks() error = %v", err)
	}
	if counts.Clicks != 48 || counts.Conversions != 7 {
		t.Errorf("CountClicks() = %+v, want 48 clicks and 7 conversions", counts)
	}
	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}
