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

func TestEngagementRepository_InsertEvent(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewEngagementRepository(sqlxDB)
	ctx := context.Background()

	event := &domain.EngagementEvent{
		ID:         "event-1",
		PostID:     "post-1",
		CommentID:  "comment-1",
		Author:     "curious",
		Text:       "how does this work?",
		State:      domain.EventStateNew,
		ReceivedAt: time.Now(),
	}

	t.Run("stores a new event", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO engagement_events").
			WillReturnResult(sqlmock.NewResult(0, 1))

		inserted, err := repo.InsertEvent(ctx, event)
		if err != nil {
			t.Fatalf("InsertEvent() error = %v", err)
		}
		if !inserted {
			t.Error("InsertEvent() = false, want true")
		}
	})

	t.Run("redelivered comment id is a no-op", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO engagement_events").
			WillReturnResult(sqlmock.NewResult(0, 0))

		inserted, err := repo.InsertEvent(ctx, event)
		if err != nil {
			t.Fatalf("InsertEvent() error = %v", err)
		}
		if inserted {
			t.Error("InsertEvent() = true, want false on conflict")
		}
	})

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestEngagementRepository_TransitionState(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewEngagementRepository(sqlxDB)
	ctx := context.Background()

	testCases := []struct {
		name      string
		from      domain.EventState
		to        domain.EventState
		setupMock func()
		wantErr   error
	}{
		{
			name: "guarded transition succeeds",
			from: domain.EventStateClassified,
			to:   domain.EventStateResponded,
			setupMock: func() {
				mock.ExpectExec("UPDATE engagement_events").
					WithArgs("event-1", domain.EventStateClassified, domain.EventStateResponded).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "lost race reports not found",
			from: domain.EventStateClassified,
			to:   domain.EventStateSuppressed,
			setupMock: func() {
				mock.ExpectExec("UPDATE engagement_events").
					WithArgs("event-1", domain.EventStateClassified, domain.EventStateSuppressed).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			err := repo.TransitionState(ctx, "event-1", tc.from, tc.to)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("TransitionState() error = %v, want %v", err, tc.wantErr)
			}
			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}

	t.Run("backward transition rejected without touching the database", func(t *testing.T) {
		err := repo.TransitionState(ctx, "event-1", domain.EventStateResponded, domain.EventStateClassified)
		if err == nil {
			t.Error("TransitionState() backward move returned nil error")
		}
	})
}

func TestEngagementRepository_AdvancePhase(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewEngagementRepository(sqlxDB)
	ctx := context.Background()
	enteredAt := time.Now()

	t.Run("advances one step", func(t *testing.T) {
		mock.ExpectExec("UPDATE engagement_sessions").
			WithArgs("post-1", domain.PhaseInitialHook, domain.PhaseActiveDiscussion, enteredAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.AdvancePhase(ctx, "post-1", domain.PhaseInitialHook, domain.PhaseActiveDiscussion, enteredAt)
		if err != nil {
			t.Fatalf("AdvancePhase() error = %v", err)
		}
	})

	t.Run("concurrent advance loses cleanly", func(t *testing.T) {
		mock.ExpectExec("UPDATE engagement_sessions").
			WithArgs("post-1", domain.PhaseInitialHook, domain.PhaseActiveDiscussion, enteredAt).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.AdvancePhase(ctx, "post-1", domain.PhaseInitialHook, domain.PhaseActiveDiscussion, enteredAt)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("AdvancePhase() error = %v, want ErrNotFound", err)
		}
	})

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}
