package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/wa-attendance-api/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var studentRowColumns = []string{"id", "phone_number", "roll_number", "name", "semester", "chat_state", "temp_data", "created_at", "updated_at"}

func TestStudentRepositoryList(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows(studentRowColumns).
		AddRow("stu-1", "919876543210", "21CS001", "Asha", 5, "IDLE", nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, phone_number, roll_number, name, semester, chat_state, temp_data, created_at, updated_at FROM students WHERE 1=1 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "21CS001", students[0].RollNumber)
	assert.False(t, students[0].TempData.Valid)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListSearch(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND (LOWER(name) LIKE $1 OR LOWER(roll_number) LIKE $1 OR phone_number LIKE $1) ORDER BY name ASC LIMIT 10 OFFSET 10")).
		WithArgs("%asha%").
		WillReturnRows(sqlmock.NewRows(studentRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students WHERE")).
		WithArgs("%asha%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, total, err := repo.List(context.Background(), models.StudentFilter{Search: "Asha", SortBy: "name", SortOrder: "asc", Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByPhone(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows(studentRowColumns).
		AddRow("stu-1", "919876543210", "21CS001", "Asha", 5, "AWAITING_ATTENDANCE", []byte(`{"message":"missed maths"}`), time.Now(), time.Now())
	mock.ExpectQuery("FROM students WHERE phone_number = \\$1").WithArgs("919876543210").WillReturnRows(rows)

	student, err := repo.FindByPhone(context.Background(), nil, "919876543210")
	require.NoError(t, err)
	assert.Equal(t, models.ChatStateAwaitingAttendance, student.ChatState)
	assert.True(t, student.TempData.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("FROM students WHERE id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStudentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs(sqlmock.AnyArg(), "919876543210", "21CS001", "Asha", 5, models.ChatStateIdle, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{PhoneNumber: "919876543210", RollNumber: "21CS001", Name: "Asha", Semester: 5}
	require.NoError(t, repo.Create(context.Background(), nil, student))
	assert.NotEmpty(t, student.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExistsByRollNumber(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE roll_number = $1 AND id <> $2 LIMIT 1")).
		WithArgs("21CS001", "stu-1").
		WillReturnError(sql.ErrNoRows)
	exists, err := repo.ExistsByRollNumber(context.Background(), nil, "21CS001", "stu-1")
	require.NoError(t, err)
	assert.False(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE roll_number = $1 LIMIT 1")).
		WithArgs("21CS001").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	exists, err = repo.ExistsByRollNumber(context.Background(), nil, "21CS001", "")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateChatState(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	pending := types.NullJSONText{JSONText: types.JSONText(`{"message":"x"}`), Valid: true}
	mock.ExpectExec("UPDATE students SET chat_state").
		WithArgs("stu-1", models.ChatStateAwaitingAttendance, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateChatState(context.Background(), nil, "stu-1", models.ChatStateAwaitingAttendance, pending))

	mock.ExpectExec("UPDATE students SET chat_state").
		WithArgs("ghost", models.ChatStateIdle, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateChatState(context.Background(), nil, "ghost", models.ChatStateIdle, types.NullJSONText{})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("DELETE FROM students WHERE id = \\$1").WithArgs("stu-1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "stu-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(sql.ErrNoRows))
}
