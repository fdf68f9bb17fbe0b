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

func TestExperimentRepository_Conclude(t *testing.T) {
	ctx := context.Background()
	concludedAt := time.Now()
	winnerID := "variant-1"

	t.Run("concludes with a winner", func(t *testing.T) {
		sqlxDB, mock := newMockDB(t)
		repo := database.NewExperimentRepository(sqlxDB)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE experiments").
			WithArgs("exp-1", &winnerID, domain.ConclusionSignificance, concludedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE variants").
			WithArgs(winnerID, "exp-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Conclude(ctx, "exp-1", &winnerID, domain.ConclusionSignificance, concludedAt)
		if err != nil {
			t.Fatalf("Conclude() error = %v", err)
		}
		if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
			t.Errorf("unfulfilled expectations: %v", expectErr)
		}
	})

	t.Run("concludes without a winner", func(t *testing.T) {
		sqlxDB, mock := newMockDB(t)
		repo := database.NewExperimentRepository(sqlxDB)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE experiments").
			WithArgs("exp-1", nil, domain.ConclusionNoClearWinner, concludedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Conclude(ctx, "exp-1", nil, domain.ConclusionNoClearWinner, concludedAt)
		if err != nil {
			t.Fatalf("Conclude() error = %v", err)
		}
		if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
			t.Errorf("unfulfilled expectations: %v", expectErr)
		}
	})

	t.Run("second conclusion loses the status guard", func(t *testing.T) {
		sqlxDB, mock := newMockDB(t)
		repo := database.NewExperimentRepository(sqlxDB)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE experiments").
			WithArgs("exp-1", nil, domain.ConclusionCancelled, concludedAt).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.Conclude(ctx, "exp-1", nil, domain.ConclusionCancelled, concludedAt)
		if !errors.Is(err, domain.ErrAlreadyConcluded) {
			t.Errorf("Conclude() error = %v, want ErrAlreadyConcluded", err)
		}
		if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
			t.Errorf("unfulfilled expectations: %v", expectErr)
		}
	})
}

func TestExperimentRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("loads experiment with variants", func(t *testing.T) {
		sqlxDB, mock := newMockDB(t)
		repo := database.NewExperimentRepository(sqlxDB)

		expRows := sqlmock.NewRows([]string{
			"id", "name", "type", "status", "min_sample_size", "duration_seconds",
			"confidence_level", "winner_variant_id", "conclusion_reason",
			"created_at", "started_at", "concluded_at",
		}).AddRow("exp-1", "headline test", "content", "running", int64(200),
			int64(172800), 0.95, nil, nil, now, now, nil)
		mock.ExpectQuery("SELECT \\* FROM experiments").
			WithArgs("exp-1").
			WillReturnRows(expRows)

		varRows := sqlmock.NewRows([]string{
			"id", "experiment_id", "ordinal", "channel", "body", "content_type",
			"publish_at", "is_winner", "exposures", "engaged", "conversions",
		}).
			AddRow("variant-0", "exp-1", 0, "mastodon", "a", "text", now, false, int64(0), int64(0), int64(0)).
			AddRow("variant-1", "exp-1", 1, "mastodon", "b", "text", now, false, int64(0), int64(0), int64(0))
		mock.ExpectQuery("SELECT (.+) FROM variants").
			WithArgs("exp-1").
			WillReturnRows(varRows)

		exp, err := repo.GetByID(ctx, "exp-1")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if exp.Duration != 48*time.Hour {
			t.Errorf("Duration = %v, want 48h", exp.Duration)
		}
		if len(exp.Variants) != 2 || exp.Variants[1].ID != "variant-1" {
			t.Errorf("Variants = %+v, want two ordered variants", exp.Variants)
		}
		if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
			t.Errorf("unfulfilled expectations: %v", expectErr)
		}
	})

	t.Run("missing experiment reports not found", func(t *testing.T) {
		sqlxDB, mock := newMockDB(t)
		repo := database.NewExperimentRepository(sqlxDB)

		mock.ExpectQuery("SELECT \\* FROM experiments").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.GetByID(ctx, "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("GetByID() error = %v, want ErrNotFound", err)
		}
	})
}
