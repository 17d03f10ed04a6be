package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

func newScheduleRepoMock(t *testing.T) (*ScheduleRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewScheduleRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

var moveColumnNames = []string{
	"id", "course_id", "edition_id", "src_room_id", "src_period_index", "src_day", "src_weeks",
	"dst_room_id", "dst_period_index", "dst_day", "dst_weeks", "is_confirmed", "user_id", "schedule_order", "message", "confirmed_at",
}

func positions(room int64, period, day int, course, edition int64, weeks ...int) []models.SchedulePosition {
	out := make([]models.SchedulePosition, 0, len(weeks))
	for _, w := range weeks {
		out = append(out, models.SchedulePosition{RoomID: room, PeriodIndex: period, Day: day, Week: w, CourseID: course, EditionID: edition})
	}
	return out
}

func TestScheduleRepositoryInsertMapsUniqueViolation(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_positions")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
	mock.ExpectRollback()

	err := repo.InsertPositions(context.Background(), positions(1, 2, 3, 10, 1, 1, 2))
	require.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryInsertCommits(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_positions")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertPositions(context.Background(), positions(1, 2, 3, 10, 1, 1, 2)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryPositionsAt(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"room_id", "period_index", "day", "week", "course_id", "edition_id", "created_at"}).
		AddRow(1, 2, 3, 4, 10, 1, time.Now())
	mock.ExpectQuery("SELECT room_id, period_index, day, week, course_id, edition_id, created_at FROM schedule_positions").
		WithArgs(int64(1), 2, 3, sqlmock.AnyArg()).
		WillReturnRows(rows)

	got, err := repo.PositionsAt(context.Background(), models.Slot{RoomID: 1, PeriodIndex: 2, Day: 3}, []int{4, 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Week)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryDeleteCascadesProposals(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_positions")).
		WithArgs(int64(1), 2, 3, int64(10), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM scheduled_moves")).
		WillReturnRows(sqlmock.NewRows(moveColumnNames).
			AddRow("m1", 10, 1, 1, 2, 3, "{2}", 4, 2, 3, "{2}", false, "bob", now, nil, nil))
	mock.ExpectCommit()

	superseded, err := repo.DeletePositions(context.Background(), positions(1, 2, 3, 10, 1, 1, 2))
	require.NoError(t, err)
	require.Len(t, superseded, 1)
	assert.Equal(t, "m1", superseded[0].ID)
	assert.Equal(t, []int{2}, superseded[0].Source.Weeks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryDeleteDetectsConcurrentChange(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_positions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	_, err := repo.DeletePositions(context.Background(), positions(1, 2, 3, 10, 1, 1, 2))
	require.ErrorIs(t, err, ErrPositionsChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryReplacePositions(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_positions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_positions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM scheduled_moves")).
		WillReturnRows(sqlmock.NewRows(moveColumnNames))
	mock.ExpectCommit()

	superseded, err := repo.ReplacePositions(context.Background(), positions(1, 2, 3, 10, 1, 1), positions(5, 2, 3, 10, 1, 1))
	require.NoError(t, err)
	assert.Empty(t, superseded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryConfirmMoveRequiresPending(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM scheduled_moves WHERE id = $1 AND is_confirmed = FALSE FOR UPDATE")).
		WithArgs("m1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.ConfirmMove(context.Background(), "m1", nil, nil, time.Now())
	require.ErrorIs(t, err, ErrMoveNotPending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryConfirmMove(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM scheduled_moves")).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_positions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_positions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduled_moves SET is_confirmed = TRUE")).
		WithArgs("m1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM scheduled_moves")).
		WillReturnRows(sqlmock.NewRows(moveColumnNames))
	mock.ExpectCommit()

	_, err := repo.ConfirmMove(context.Background(), "m1", positions(1, 2, 3, 10, 1, 1), positions(5, 2, 3, 10, 1, 1), time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCreateAndGetMove(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduled_moves")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	move := &models.ScheduledMove{
		CourseID:    10,
		EditionID:   1,
		Source:      models.SlotWeeks{RoomID: 1, PeriodIndex: 2, Day: 3, Weeks: []int{1, 2}},
		Destination: models.SlotWeeks{RoomID: 4, PeriodIndex: 2, Day: 3, Weeks: []int{1, 2}},
		UserID:      "bob",
		Message:     "swap please",
	}
	require.NoError(t, repo.CreateMove(context.Background(), move))
	require.NotEmpty(t, move.ID)
	require.False(t, move.ScheduleOrder.IsZero())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, course_id, edition_id")).
		WithArgs(move.ID).
		WillReturnRows(sqlmock.NewRows(moveColumnNames).
			AddRow(move.ID, 10, 1, 1, 2, 3, "{1,2}", 4, 2, 3, "{1,2}", false, "bob", move.ScheduleOrder, "swap please", nil))

	found, err := repo.GetMove(context.Background(), move.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, found.Destination.Weeks)
	assert.Equal(t, "swap please", found.Message)
	assert.Equal(t, models.MoveStatusProposed, found.Status())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryListMovesFilters(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	pending := false
	mock.ExpectQuery(regexp.QuoteMeta("FROM scheduled_moves WHERE course_id = $1 AND (src_room_id = $2 OR dst_room_id = $2) AND is_confirmed = $3 ORDER BY schedule_order ASC, id ASC LIMIT $4")).
		WithArgs(int64(10), int64(4), false, 20).
		WillReturnRows(sqlmock.NewRows(moveColumnNames))

	moves, err := repo.ListMoves(context.Background(), models.MoveFilter{CourseID: 10, RoomID: 4, Confirmed: &pending, Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, moves)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCountMovesIgnoresPaging(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	pending := false
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM scheduled_moves WHERE user_id = $1 AND is_confirmed = $2")).
		WithArgs("alice", false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	total, err := repo.CountMoves(context.Background(), models.MoveFilter{UserID: "alice", Confirmed: &pending, Limit: 1, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryDeleteMoveNotPending(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM scheduled_moves WHERE id = $1 AND is_confirmed = FALSE")).
		WithArgs("m9").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.DeleteMove(context.Background(), "m9")
	require.ErrorIs(t, err, ErrMoveNotPending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCountPlaced(t *testing.T) {
	repo, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE (course_id, edition_id) IN (($1, $2), ($3, $4))")).
		WithArgs(int64(10), int64(1), int64(11), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "edition_id", "placed"}).AddRow(10, 1, 3))

	counts, err := repo.CountPlaced(context.Background(), []models.EditionRef{{CourseID: 10, EditionID: 1}, {CourseID: 11, EditionID: 1}})
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.EditionRef{CourseID: 10, EditionID: 1}])
	assert.Zero(t, counts[models.EditionRef{CourseID: 11, EditionID: 1}])
	require.NoError(t, mock.ExpectationsWereMet())
}
