package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"careportal/internal/assignment/domain"
)

func newMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestIsAssigned(t *testing.T) {
	for _, want := range []bool{true, false} {
		repo, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WithArgs("doc-1", "pat-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(want))
		got, err := repo.IsAssigned(context.Background(), "doc-1", "pat-1")
		if err != nil {
			t.Fatalf("IsAssigned: %v", err)
		}
		if got != want {
			t.Errorf("IsAssigned = %v, want %v", got, want)
		}
	}
}

func TestIsAssigned_EmptyIDs(t *testing.T) {
	repo, mock := newMock(t)
	got, err := repo.IsAssigned(context.Background(), "", "pat-1")
	if err != nil || got {
		t.Errorf("IsAssigned(\"\", pat) = %v, %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIsAssigned_DBError(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("SELECT EXISTS").WillReturnError(errors.New("conn reset"))
	if _, err := repo.IsAssigned(context.Background(), "doc-1", "pat-1"); err == nil {
		t.Error("want error")
	}
}

func TestCreateAndList(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (doctor_id, patient_id) DO NOTHING")).
		WithArgs("a1", "doc-1", "pat-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM care_assignments WHERE doctor_id = $1")).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "doctor_id", "patient_id", "created_at"}).AddRow("a1", "doc-1", "pat-1", now))

	if err := repo.Create(context.Background(), &domain.Assignment{ID: "a1", DoctorID: "doc-1", PatientID: "pat-1", CreatedAt: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	list, err := repo.ListPatients(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ListPatients: %v", err)
	}
	if len(list) != 1 || list[0].PatientID != "pat-1" {
		t.Errorf("list = %+v", list)
	}
}
