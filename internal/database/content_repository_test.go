package database_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/amplify/internal/database"
	"github.com/jonesrussell/amplify/internal/domain"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func contentColumns() []string {
	return []string{
		"id", "channel", "body", "media_refs", "content_type", "publish_at",
		"priority", "experiment_id", "variant_id", "origin_post_id", "status",
		"attempt_count", "max_attempts", "requeued", "last_error",
		"platform_message_id", "created_at", "updated_at", "published_at",
	}
}

func contentRow(id string, status domain.ContentStatus, at time.Time) []driver.Value {
	return []driver.Value{
		id, "mastodon", "body text", "{}", "text", at,
		50, nil, nil, nil, string(status),
		0, 5, false, nil,
		nil, at, at, nil,
	}
}

func TestContentRepository_Cancel(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewContentRepository(sqlxDB)
	ctx := context.Background()
	itemID := "item-123"

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   error
	}{
		{
			name: "cancels a pending item",
			setupMock: func() {
				mock.ExpectExec("DELETE FROM content_items").
					WithArgs(itemID).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "already dispatched reports not found",
			setupMock: func() {
				mock.ExpectExec("DELETE FROM content_items").
					WithArgs(itemID).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "database error surfaces",
			setupMock: func() {
				mock.ExpectExec("DELETE FROM content_items").
					WithArgs(itemID).
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: sql.ErrConnDone,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			err := repo.Cancel(ctx, itemID)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Cancel() error = %v, want %v", err, tc.wantErr)
			}
			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestContentRepository_Requeue(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewContentRepository(sqlxDB)
	ctx := context.Background()
	publishAt := time.Now().Add(time.Minute)

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   error
	}{
		{
			name: "requeues a dispatching item",
			setupMock: func() {
				mock.ExpectExec("UPDATE content_items").
					WithArgs("item-1", "rate limited", publishAt).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "item no longer dispatching reports not found",
			setupMock: func() {
				mock.ExpectExec("UPDATE content_items").
					WithArgs("item-1", "rate limited", publishAt).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			err := repo.Requeue(ctx, "item-1", "rate limited", publishAt)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Requeue() error = %v, want %v", err, tc.wantErr)
			}
			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestContentRepository_GetByID(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewContentRepository(sqlxDB)
	ctx := context.Background()
	now := time.Now()

	t.Run("returns the item", func(t *testing.T) {
		rows := sqlmock.NewRows(contentColumns()).
			AddRow(contentRow("item-1", domain.ContentStatusPending, now)...)
		mock.ExpectQuery("SELECT (.+) FROM content_items WHERE id").
			WithArgs("item-1").
			WillReturnRows(rows)

		item, err := repo.GetByID(ctx, "item-1")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if item.ID != "item-1" || item.Status != domain.ContentStatusPending {
			t.Errorf("GetByID() = %+v, want item-1 pending", item)
		}
	})

	t.Run("missing item reports not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM content_items WHERE id").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(contentColumns()))

		_, err := repo.GetByID(ctx, "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("GetByID() error = %v, want ErrNotFound", err)
		}
	})

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestContentRepository_ClaimDue(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewContentRepository(sqlxDB)
	ctx := context.Background()
	now := time.Now()

	rows := sqlmock.NewRows(contentColumns()).
		AddRow(contentRow("item-1", domain.ContentStatusDispatching, now)...).
		AddRow(contentRow("item-2", domain.ContentStatusDispatching, now)...)
	mock.ExpectQuery("UPDATE content_items").
		WithArgs(now, 10).
		WillReturnRows(rows)

	items, err := repo.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ClaimDue() returned %d items, want 2", len(items))
	}
	if items[0].ID != "item-1" || items[1].ID != "item-2" {
		t.Errorf("ClaimDue() order = %s, %s", items[0].ID, items[1].ID)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestContentRepository_CancelPendingByExperiment(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewContentRepository(sqlxDB)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM content_items").
		WithArgs("exp-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := repo.CancelPendingByExperiment(ctx, "exp-1")
	if err != nil {
		t.Fatalf("CancelPendingByExperiment() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("CancelPendingByExperiment() = %d, want 3", removed)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestContentRepository_BoostPriority(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewContentRepository(sqlxDB)
	ctx := context.Background()

	mock.ExpectExec("UPDATE content_items").
		WithArgs("post-1", 25).
		WillReturnResult(sqlmock.NewResult(0, 2))

	boosted, err := repo.BoostPriority(ctx, "post-1", 25)
	if err != nil {
		t.Fatalf("BoostPriority() error = %v", err)
	}
	if boosted != 2 {
		t.Errorf("BoostPriority() = %d, want 2", boosted)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}
