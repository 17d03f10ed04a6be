package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

// CatalogRepository reads course editions and rooms maintained elsewhere.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetEdition fetches one edition with its coordinators and groups. Missing
// rows yield sql.ErrNoRows.
func (r *CatalogRepository) GetEdition(ctx context.Context, ref models.EditionRef) (*models.CourseEdition, error) {
	const query = `SELECT course_id, edition_id, name, required_units FROM course_editions
	WHERE course_id = $1 AND edition_id = $2`
	var edition models.CourseEdition
	if err := r.db.GetContext(ctx, &edition, query, ref.CourseID, ref.EditionID); err != nil {
		return nil, err
	}
	editions := []models.CourseEdition{edition}
	if err := r.attachMembers(ctx, editions); err != nil {
		return nil, err
	}
	return &editions[0], nil
}

// ListEditions returns editions coordinated by a user and/or taught to a group.
func (r *CatalogRepository) ListEditions(ctx context.Context, filter models.EditionFilter) ([]models.CourseEdition, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 2)
	builder.WriteString(`SELECT ce.course_id, ce.edition_id, ce.name, ce.required_units FROM course_editions ce`)

	conditions := make([]string, 0, 2)
	if filter.CoordinatorID != "" {
		args = append(args, filter.CoordinatorID)
		conditions = append(conditions, fmt.Sprintf(`EXISTS (SELECT 1 FROM course_edition_coordinators c
		WHERE c.course_id = ce.course_id AND c.edition_id = ce.edition_id AND c.user_id = $%d)`, len(args)))
	}
	if filter.GroupID != 0 {
		args = append(args, filter.GroupID)
		conditions = append(conditions, fmt.Sprintf(`EXISTS (SELECT 1 FROM course_edition_groups g
		WHERE g.course_id = ce.course_id AND g.edition_id = ce.edition_id AND g.group_id = $%d)`, len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY ce.course_id, ce.edition_id")

	var editions []models.CourseEdition
	if err := r.db.SelectContext(ctx, &editions, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list course editions: %w", err)
	}
	if err := r.attachMembers(ctx, editions); err != nil {
		return nil, err
	}
	return editions, nil
}

// GetRoom fetches a room. Missing rows yield sql.ErrNoRows.
func (r *CatalogRepository) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	const query = `SELECT id, name, capacity FROM rooms WHERE id = $1`
	var room models.Room
	if err := r.db.GetContext(ctx, &room, query, id); err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *CatalogRepository) attachMembers(ctx context.Context, editions []models.CourseEdition) error {
	if len(editions) == 0 {
		return nil
	}
	index := make(map[models.EditionRef]int, len(editions))
	courseIDs := make(pq.Int64Array, 0, len(editions))
	for i, e := range editions {
		index[e.Ref()] = i
		courseIDs = append(courseIDs, e.CourseID)
	}

	var coordinators []struct {
		CourseID  int64  `db:"course_id"`
		EditionID int64  `db:"edition_id"`
		UserID    string `db:"user_id"`
	}
	const coordinatorQuery = `SELECT course_id, edition_id, user_id FROM course_edition_coordinators
	WHERE course_id = ANY($1) ORDER BY user_id`
	if err := r.db.SelectContext(ctx, &coordinators, coordinatorQuery, courseIDs); err != nil {
		return fmt.Errorf("load edition coordinators: %w", err)
	}
	for _, c := range coordinators {
		if i, ok := index[models.EditionRef{CourseID: c.CourseID, EditionID: c.EditionID}]; ok {
			editions[i].Coordinators = append(editions[i].Coordinators, c.UserID)
		}
	}

	var groups []struct {
		CourseID  int64 `db:"course_id"`
		EditionID int64 `db:"edition_id"`
		GroupID   int64 `db:"group_id"`
	}
	const groupQuery = `SELECT course_id, edition_id, group_id FROM course_edition_groups
	WHERE course_id = ANY($1) ORDER BY group_id`
	if err := r.db.SelectContext(ctx, &groups, groupQuery, courseIDs); err != nil {
		return fmt.Errorf("load edition groups: %w", err)
	}
	for _, g := range groups {
		if i, ok := index[models.EditionRef{CourseID: g.CourseID, EditionID: g.EditionID}]; ok {
			editions[i].Groups = append(editions[i].Groups, g.GroupID)
		}
	}
	return nil
}
