package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

func TestCatalogRepositoryGetEdition(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewCatalogRepository(sqlx.NewDb(db, "sqlmock"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT course_id, edition_id, name, required_units FROM course_editions")).
		WithArgs(int64(10), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "edition_id", "name", "required_units"}).AddRow(10, 1, "Algebra", 30))
	mock.ExpectQuery(regexp.QuoteMeta("FROM course_edition_coordinators")).
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "edition_id", "user_id"}).
			AddRow(10, 1, "alice").AddRow(10, 2, "carol"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM course_edition_groups")).
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "edition_id", "group_id"}).AddRow(10, 1, 7))

	edition, err := repo.GetEdition(context.Background(), models.EditionRef{CourseID: 10, EditionID: 1})
	require.NoError(t, err)
	assert.Equal(t, "Algebra", edition.Name)
	assert.Equal(t, []string{"alice"}, edition.Coordinators)
	assert.Equal(t, []int64{7}, edition.Groups)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryGetEditionMissing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewCatalogRepository(sqlx.NewDb(db, "sqlmock"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM course_editions")).WillReturnError(sql.ErrNoRows)

	_, err = repo.GetEdition(context.Background(), models.EditionRef{CourseID: 1, EditionID: 1})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMemoryCatalogFromSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"rooms": [{"id": 1, "name": "A-101", "capacity": 30}],
		"editions": [
			{"courseId": 10, "editionId": 1, "name": "Algebra", "requiredUnits": 2, "coordinators": ["alice"], "groups": [7]},
			{"courseId": 11, "editionId": 1, "name": "Physics", "requiredUnits": 2, "coordinators": ["bob"], "groups": [7, 8]}
		]
	}`), 0o600))

	seed, err := LoadCatalogSeed(path)
	require.NoError(t, err)
	repo := NewMemoryCatalogRepository(seed)
	ctx := context.Background()

	room, err := repo.GetRoom(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A-101", room.Name)

	byGroup, err := repo.ListEditions(ctx, models.EditionFilter{GroupID: 8})
	require.NoError(t, err)
	require.Len(t, byGroup, 1)
	assert.Equal(t, int64(11), byGroup[0].CourseID)

	byCoordinator, err := repo.ListEditions(ctx, models.EditionFilter{CoordinatorID: "alice", GroupID: 7})
	require.NoError(t, err)
	require.Len(t, byCoordinator, 1)

	_, err = repo.GetEdition(ctx, models.EditionRef{CourseID: 99, EditionID: 1})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
