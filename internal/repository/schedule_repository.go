package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

const positionColumns = `room_id, period_index, day, week, course_id, edition_id, created_at`

const moveColumns = `id, course_id, edition_id, src_room_id, src_period_index, src_day, src_weeks,
       dst_room_id, dst_period_index, dst_day, dst_weeks, is_confirmed, user_id, schedule_order, message, confirmed_at`

// ScheduleRepository persists schedule positions and scheduled moves in PostgreSQL.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

type moveRow struct {
	ID             string         `db:"id"`
	CourseID       int64          `db:"course_id"`
	EditionID      int64          `db:"edition_id"`
	SrcRoomID      int64          `db:"src_room_id"`
	SrcPeriodIndex int            `db:"src_period_index"`
	SrcDay         int            `db:"src_day"`
	SrcWeeks       pq.Int64Array  `db:"src_weeks"`
	DstRoomID      int64          `db:"dst_room_id"`
	DstPeriodIndex int            `db:"dst_period_index"`
	DstDay         int            `db:"dst_day"`
	DstWeeks       pq.Int64Array  `db:"dst_weeks"`
	IsConfirmed    bool           `db:"is_confirmed"`
	UserID         string         `db:"user_id"`
	ScheduleOrder  time.Time      `db:"schedule_order"`
	Message        sql.NullString `db:"message"`
	ConfirmedAt    sql.NullTime   `db:"confirmed_at"`
}

func newMoveRow(m *models.ScheduledMove) moveRow {
	row := moveRow{
		ID:             m.ID,
		CourseID:       m.CourseID,
		EditionID:      m.EditionID,
		SrcRoomID:      m.Source.RoomID,
		SrcPeriodIndex: m.Source.PeriodIndex,
		SrcDay:         m.Source.Day,
		SrcWeeks:       weeksArray(m.Source.Weeks),
		DstRoomID:      m.Destination.RoomID,
		DstPeriodIndex: m.Destination.PeriodIndex,
		DstDay:         m.Destination.Day,
		DstWeeks:       weeksArray(m.Destination.Weeks),
		IsConfirmed:    m.IsConfirmed,
		UserID:         m.UserID,
		ScheduleOrder:  m.ScheduleOrder,
		Message:        sql.NullString{String: m.Message, Valid: m.Message != ""},
	}
	if m.ConfirmedAt != nil {
		row.ConfirmedAt = sql.NullTime{Time: *m.ConfirmedAt, Valid: true}
	}
	return row
}

func (r moveRow) model() models.ScheduledMove {
	m := models.ScheduledMove{
		ID:        r.ID,
		CourseID:  r.CourseID,
		EditionID: r.EditionID,
		Source: models.SlotWeeks{
			RoomID: r.SrcRoomID, PeriodIndex: r.SrcPeriodIndex, Day: r.SrcDay, Weeks: intWeeks(r.SrcWeeks),
		},
		Destination: models.SlotWeeks{
			RoomID: r.DstRoomID, PeriodIndex: r.DstPeriodIndex, Day: r.DstDay, Weeks: intWeeks(r.DstWeeks),
		},
		IsConfirmed:   r.IsConfirmed,
		UserID:        r.UserID,
		ScheduleOrder: r.ScheduleOrder,
		Message:       r.Message.String,
	}
	if r.ConfirmedAt.Valid {
		t := r.ConfirmedAt.Time
		m.ConfirmedAt = &t
	}
	return m
}

func moveModels(rows []moveRow) []models.ScheduledMove {
	out := make([]models.ScheduledMove, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out
}

// ListPositions returns positions matching the query ordered by slot and week.
func (r *ScheduleRepository) ListPositions(ctx context.Context, q models.PositionQuery) ([]models.SchedulePosition, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + positionColumns + ` FROM schedule_positions`)

	conditions := make([]string, 0, 3)
	if q.RoomID != 0 {
		args = append(args, q.RoomID)
		conditions = append(conditions, fmt.Sprintf("room_id = $%d", len(args)))
	}
	if len(q.Weeks) > 0 {
		args = append(args, weeksArray(q.Weeks))
		conditions = append(conditions, fmt.Sprintf("week = ANY($%d)", len(args)))
	}
	if len(q.Editions) > 0 {
		tuples := make([]string, len(q.Editions))
		for i, ref := range q.Editions {
			args = append(args, ref.CourseID, ref.EditionID)
			tuples[i] = fmt.Sprintf("($%d, $%d)", len(args)-1, len(args))
		}
		conditions = append(conditions, fmt.Sprintf("(course_id, edition_id) IN (%s)", strings.Join(tuples, ", ")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY day, period_index, room_id, week")

	var positions []models.SchedulePosition
	if err := r.db.SelectContext(ctx, &positions, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list schedule positions: %w", err)
	}
	return positions, nil
}

// PositionsAt returns the occupied weeks of one slot, ordered by week.
func (r *ScheduleRepository) PositionsAt(ctx context.Context, slot models.Slot, weeks []int) ([]models.SchedulePosition, error) {
	const query = `SELECT ` + positionColumns + ` FROM schedule_positions
	WHERE room_id = $1 AND period_index = $2 AND day = $3 AND week = ANY($4)
	ORDER BY week`
	var positions []models.SchedulePosition
	if err := r.db.SelectContext(ctx, &positions, query, slot.RoomID, slot.PeriodIndex, slot.Day, weeksArray(weeks)); err != nil {
		return nil, fmt.Errorf("load slot positions: %w", err)
	}
	return positions, nil
}

// CountPlaced returns the number of placed units per edition.
func (r *ScheduleRepository) CountPlaced(ctx context.Context, refs []models.EditionRef) (map[models.EditionRef]int, error) {
	counts := make(map[models.EditionRef]int, len(refs))
	if len(refs) == 0 {
		return counts, nil
	}
	args := make([]interface{}, 0, len(refs)*2)
	tuples := make([]string, len(refs))
	for i, ref := range refs {
		args = append(args, ref.CourseID, ref.EditionID)
		tuples[i] = fmt.Sprintf("($%d, $%d)", len(args)-1, len(args))
	}
	query := fmt.Sprintf(`SELECT course_id, edition_id, COUNT(*) AS placed FROM schedule_positions
	WHERE (course_id, edition_id) IN (%s) GROUP BY course_id, edition_id`, strings.Join(tuples, ", "))

	var rows []struct {
		CourseID  int64 `db:"course_id"`
		EditionID int64 `db:"edition_id"`
		Placed    int   `db:"placed"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("count placed units: %w", err)
	}
	for _, row := range rows {
		counts[models.EditionRef{CourseID: row.CourseID, EditionID: row.EditionID}] = row.Placed
	}
	return counts, nil
}

// InsertPositions adds positions in one transaction. A collision on the slot
// index yields ErrSlotTaken and nothing is written.
func (r *ScheduleRepository) InsertPositions(ctx context.Context, positions []models.SchedulePosition) error {
	return r.withTx(ctx, "insert positions", func(tx *sqlx.Tx) error {
		return insertPositions(ctx, tx, positions)
	})
}

// ReplacePositions removes and adds positions atomically and deletes pending
// proposals whose source overlaps the removed positions. The deleted
// proposals are returned.
func (r *ScheduleRepository) ReplacePositions(ctx context.Context, removed, added []models.SchedulePosition) ([]models.ScheduledMove, error) {
	var superseded []models.ScheduledMove
	err := r.withTx(ctx, "replace positions", func(tx *sqlx.Tx) error {
		if err := deletePositions(ctx, tx, removed); err != nil {
			return err
		}
		if err := insertPositions(ctx, tx, added); err != nil {
			return err
		}
		var err error
		superseded, err = cascadeMoves(ctx, tx, removed)
		return err
	})
	return superseded, err
}

// DeletePositions removes positions and cascades pending proposals whose
// source overlaps them.
func (r *ScheduleRepository) DeletePositions(ctx context.Context, positions []models.SchedulePosition) ([]models.ScheduledMove, error) {
	var superseded []models.ScheduledMove
	err := r.withTx(ctx, "delete positions", func(tx *sqlx.Tx) error {
		if err := deletePositions(ctx, tx, positions); err != nil {
			return err
		}
		var err error
		superseded, err = cascadeMoves(ctx, tx, positions)
		return err
	})
	return superseded, err
}

// CreateMove stores a new pending proposal.
func (r *ScheduleRepository) CreateMove(ctx context.Context, move *models.ScheduledMove) error {
	if move.ID == "" {
		move.ID = uuid.NewString()
	}
	if move.ScheduleOrder.IsZero() {
		move.ScheduleOrder = time.Now().UTC()
	}
	const query = `INSERT INTO scheduled_moves
	(id, course_id, edition_id, src_room_id, src_period_index, src_day, src_weeks, dst_room_id, dst_period_index, dst_day, dst_weeks, is_confirmed, user_id, schedule_order, message, confirmed_at)
	VALUES (:id, :course_id, :edition_id, :src_room_id, :src_period_index, :src_day, :src_weeks, :dst_room_id, :dst_period_index, :dst_day, :dst_weeks, :is_confirmed, :user_id, :schedule_order, :message, :confirmed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, newMoveRow(move)); err != nil {
		return fmt.Errorf("create scheduled move: %w", err)
	}
	return nil
}

// GetMove fetches a proposal by id. Missing rows yield sql.ErrNoRows.
func (r *ScheduleRepository) GetMove(ctx context.Context, id string) (*models.ScheduledMove, error) {
	const query = `SELECT ` + moveColumns + ` FROM scheduled_moves WHERE id = $1`
	var row moveRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	move := row.model()
	return &move, nil
}

// ListMoves returns proposals matching the filter ordered by schedule order.
func (r *ScheduleRepository) ListMoves(ctx context.Context, filter models.MoveFilter) ([]models.ScheduledMove, error) {
	where, args := moveConditions(filter)
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + moveColumns + ` FROM scheduled_moves`)
	builder.WriteString(where)
	builder.WriteString(" ORDER BY schedule_order ASC, id ASC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		builder.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		builder.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	var rows []moveRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list scheduled moves: %w", err)
	}
	return moveModels(rows), nil
}

// CountMoves counts proposals matching the filter, ignoring Limit and Offset.
func (r *ScheduleRepository) CountMoves(ctx context.Context, filter models.MoveFilter) (int, error) {
	where, args := moveConditions(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM scheduled_moves`+where, args...); err != nil {
		return 0, fmt.Errorf("count scheduled moves: %w", err)
	}
	return total, nil
}

func moveConditions(filter models.MoveFilter) (string, []interface{}) {
	args := make([]interface{}, 0, 7)
	conditions := make([]string, 0, 5)
	if filter.CourseID != 0 {
		args = append(args, filter.CourseID)
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)))
	}
	if filter.EditionID != 0 {
		args = append(args, filter.EditionID)
		conditions = append(conditions, fmt.Sprintf("edition_id = $%d", len(args)))
	}
	if filter.RoomID != 0 {
		args = append(args, filter.RoomID)
		conditions = append(conditions, fmt.Sprintf("(src_room_id = $%d OR dst_room_id = $%d)", len(args), len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Confirmed != nil {
		args = append(args, *filter.Confirmed)
		conditions = append(conditions, fmt.Sprintf("is_confirmed = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// DeleteMove removes a pending proposal and returns it. Confirmed or missing
// proposals yield ErrMoveNotPending.
func (r *ScheduleRepository) DeleteMove(ctx context.Context, id string) (*models.ScheduledMove, error) {
	const query = `DELETE FROM scheduled_moves WHERE id = $1 AND is_confirmed = FALSE RETURNING ` + moveColumns
	var row moveRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMoveNotPending
		}
		return nil, fmt.Errorf("delete scheduled move: %w", err)
	}
	move := row.model()
	return &move, nil
}

// ConfirmMove applies an accepted proposal: the source rows are replaced by
// the destination rows and the proposal is marked confirmed, all in one
// transaction. Other pending proposals on the vacated source are deleted and
// returned.
func (r *ScheduleRepository) ConfirmMove(ctx context.Context, id string, removed, added []models.SchedulePosition, confirmedAt time.Time) ([]models.ScheduledMove, error) {
	var superseded []models.ScheduledMove
	err := r.withTx(ctx, "confirm move", func(tx *sqlx.Tx) error {
		var pending string
		const lockQuery = `SELECT id FROM scheduled_moves WHERE id = $1 AND is_confirmed = FALSE FOR UPDATE`
		if err := tx.GetContext(ctx, &pending, lockQuery, id); err != nil {
			if err == sql.ErrNoRows {
				return ErrMoveNotPending
			}
			return fmt.Errorf("lock scheduled move: %w", err)
		}
		if err := deletePositions(ctx, tx, removed); err != nil {
			return err
		}
		if err := insertPositions(ctx, tx, added); err != nil {
			return err
		}
		const confirmQuery = `UPDATE scheduled_moves SET is_confirmed = TRUE, confirmed_at = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, confirmQuery, id, confirmedAt); err != nil {
			return fmt.Errorf("confirm scheduled move: %w", err)
		}
		var err error
		superseded, err = cascadeMoves(ctx, tx, removed)
		return err
	})
	return superseded, err
}

func (r *ScheduleRepository) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

func insertPositions(ctx context.Context, tx *sqlx.Tx, positions []models.SchedulePosition) error {
	if len(positions) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]models.SchedulePosition, len(positions))
	for i, p := range positions {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		rows[i] = p
	}
	const query = `INSERT INTO schedule_positions (` + positionColumns + `)
	VALUES (:room_id, :period_index, :day, :week, :course_id, :edition_id, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert schedule positions: %w", err)
	}
	return nil
}

func deletePositions(ctx context.Context, tx *sqlx.Tx, positions []models.SchedulePosition) error {
	const query = `DELETE FROM schedule_positions
	WHERE room_id = $1 AND period_index = $2 AND day = $3 AND course_id = $4 AND edition_id = $5 AND week = ANY($6)`
	for _, g := range groupBySlot(positions) {
		res, err := tx.ExecContext(ctx, query, g.slot.RoomID, g.slot.PeriodIndex, g.slot.Day, g.ref.CourseID, g.ref.EditionID, weeksArray(g.weeks))
		if err != nil {
			return fmt.Errorf("delete schedule positions: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete schedule positions: %w", err)
		}
		if int(affected) != len(g.weeks) {
			return ErrPositionsChanged
		}
	}
	return nil
}

func cascadeMoves(ctx context.Context, tx *sqlx.Tx, removed []models.SchedulePosition) ([]models.ScheduledMove, error) {
	const query = `DELETE FROM scheduled_moves
	WHERE is_confirmed = FALSE AND src_room_id = $1 AND src_period_index = $2 AND src_day = $3 AND src_weeks && $4
	RETURNING ` + moveColumns
	var out []models.ScheduledMove
	for _, g := range groupBySlot(removed) {
		var rows []moveRow
		if err := tx.SelectContext(ctx, &rows, query, g.slot.RoomID, g.slot.PeriodIndex, g.slot.Day, weeksArray(g.weeks)); err != nil {
			return nil, fmt.Errorf("cascade scheduled moves: %w", err)
		}
		out = append(out, moveModels(rows)...)
	}
	return out, nil
}

type slotGroup struct {
	slot  models.Slot
	ref   models.EditionRef
	weeks []int
}

func groupBySlot(positions []models.SchedulePosition) []slotGroup {
	type groupKey struct {
		slot models.Slot
		ref  models.EditionRef
	}
	index := make(map[groupKey]int)
	var groups []slotGroup
	for _, p := range positions {
		k := groupKey{slot: p.Slot(), ref: p.Edition()}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, slotGroup{slot: k.slot, ref: k.ref})
		}
		groups[i].weeks = append(groups[i].weeks, p.Week)
	}
	for i := range groups {
		sort.Ints(groups[i].weeks)
	}
	return groups
}
