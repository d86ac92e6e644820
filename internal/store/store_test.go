package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/stulshyan/sherpaAI-sub000/internal/adapter"
	"github.com/stulshyan/sherpaAI-sub000/internal/execlog"
	"github.com/stulshyan/sherpaAI-sub000/internal/quality"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestFindByID(t *testing.T) {
	st, mock := newMock(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "project_id", "title", "source_key", "status", "error_message",
		"extracted_text_key", "word_count", "classification_type", "classification_confidence", "created_at", "updated_at"}).
		AddRow("req-1", "proj-1", "Checkout", "uploads/req-1.txt", "classifying", "", "requirements/req-1/extracted.txt", 120, "epic", 0.8, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM requirements WHERE id=$1`)).WithArgs("req-1").WillReturnRows(rows)

	req, err := st.FindByID(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if req.Status != models.RequirementStatusClassifying || req.ClassificationType != models.RequirementTypeEpic || req.WordCount != 120 {
		t.Fatalf("unexpected requirement %+v", req)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM requirements WHERE id=$1`)).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	if _, err := st.FindByID(context.Background(), "missing"); !errors.Is(err, models.ErrRequirementNotFound) {
		t.Fatalf("expected ErrRequirementNotFound, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	st, mock := newMock(t)
	query := regexp.QuoteMeta(`UPDATE requirements SET status=$2, error_message=$3, updated_at=NOW() WHERE id=$1`)
	mock.ExpectExec(query).
		WithArgs("req-1", "failed", sql.NullString{String: "boom", Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).
		WithArgs("req-2", "decomposed", sql.NullString{}).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.UpdateStatus(context.Background(), "req-1", models.RequirementStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := st.UpdateStatus(context.Background(), "req-2", models.RequirementStatusDecomposed, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateExtractedTextAndClassification(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE requirements SET extracted_text_key=$2, word_count=$3`)).
		WithArgs("req-1", "requirements/req-1/extracted.txt", 42).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE requirements SET classification_type=$2, classification_confidence=$3`)).
		WithArgs("req-1", "bug_fix", 0.66).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	if err := st.UpdateExtractedText(ctx, "req-1", "requirements/req-1/extracted.txt", 42); err != nil {
		t.Fatalf("UpdateExtractedText: %v", err)
	}
	if err := st.UpdateClassification(ctx, "req-1", models.RequirementTypeBugFix, 0.66); err != nil {
		t.Fatalf("UpdateClassification: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateFeature(t *testing.T) {
	st, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO features`)).
		WithArgs("feat-1", "proj-1", "req-1", "f1", "Guest checkout", "desc", "medium", 0.72,
			sqlmock.AnyArg(), []byte(`{"jobId":"job-1"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	f := &models.Feature{
		ID: "feat-1", ProjectID: "proj-1", RequirementID: "req-1", CandidateID: "f1",
		Title: "Guest checkout", Description: "desc", Complexity: models.ComplexityMedium,
		ReadinessScore: 0.72, ThemeIDs: []string{"t1"}, Metadata: map[string]interface{}{"jobId": "job-1"},
	}
	if err := st.CreateFeature(context.Background(), f); err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}
	if !f.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at populated")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecutionRoundTrip(t *testing.T) {
	st, mock := newMock(t)
	started := time.Now().Add(-time.Second)
	q := quality.NewScore(1, 1, 0.9)
	rec := execlog.Record{
		ID: "exec-1", AgentID: "classification-agent", AgentType: "classification", RequirementID: "req-1",
		AdapterID: "claude", Model: "claude-sonnet", Prompt: "p", Response: "r",
		Output: map[string]interface{}{"type": "epic"}, Usage: adapter.Usage{InputTokens: 10, OutputTokens: 5},
		Cost: 0.01, Latency: 250 * time.Millisecond, Quality: &q, Success: true,
		StartedAt: started, CompletedAt: started.Add(250 * time.Millisecond),
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO agent_executions`)).
		WithArgs(rec.ID, rec.AgentID, rec.AgentType, sql.NullString{}, sql.NullString{String: "req-1", Valid: true},
			sql.NullString{}, sql.NullString{String: "claude", Valid: true}, sql.NullString{String: "claude-sonnet", Valid: true},
			"p", started).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE agent_executions SET`)).
		WithArgs(rec.ID, sqlmock.AnyArg(), sqlmock.AnyArg(), "r", `{"type":"epic"}`, int64(10), int64(5), 0.01,
			int64(250), sqlmock.AnyArg(), true, sql.NullString{}, rec.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	if err := st.StartExecution(ctx, rec); err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	if err := st.CompleteExecution(ctx, rec); err != nil {
		t.Fatalf("CompleteExecution: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key, value FROM config_overrides`)).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("pipeline.max_retries", "5").
			AddRow("agents.classification.adapter", "gpt"))

	got, err := st.LoadConfigOverrides(context.Background())
	if err != nil {
		t.Fatalf("LoadConfigOverrides: %v", err)
	}
	if got["pipeline.max_retries"] != "5" || got["agents.classification.adapter"] != "gpt" {
		t.Fatalf("unexpected overrides %v", got)
	}
}
