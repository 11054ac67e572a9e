package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dbsketch/dbsketch/internal/providers"
)

const testDescription = "users table with id (uuid, pk) and email (text); " +
	"orders table with id (uuid, pk) and user_id (uuid, fk) referencing users.id; 1:N relationship"

const testSchemaJSON = `{
	"tables": [
		{"name": "users", "columns": [
			{"name": "id", "type": "UUID", "is_primary_key": true, "is_foreign_key": false},
			{"name": "email", "type": "TEXT", "is_primary_key": false, "is_foreign_key": false}
		]},
		{"name": "orders", "columns": [
			{"name": "id", "type": "UUID", "is_primary_key": true, "is_foreign_key": false},
			{"name": "user_id", "type": "UUID", "is_primary_key": false, "is_foreign_key": true}
		]}
	],
	"relationships": [
		{"from_table": "orders", "from_column": "user_id", "to_table": "users", "to_column": "id", "type": "1:N"}
	]
}`

func newTestExtractor(mock *providers.MockClient) *Extractor {
	return New(mock, Config{
		VisionModel: "vision-model",
		BrainModel:  "brain-model",
	}, nil)
}

func TestRun_EndToEnd(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Responses = []string{testDescription, testSchemaJSON}

	ds, err := newTestExtractor(mock).Run(context.Background(), []byte("fake image bytes"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ds.Tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(ds.Tables))
	}
	users := ds.Tables[0]
	if users.Name != "users" {
		t.Fatalf("first table = %q, want users", users.Name)
	}
	id := users.Columns[0]
	if id.Name != "id" || id.Type != "UUID" || !id.IsPrimaryKey {
		t.Fatalf("users.id should be a UUID primary key, got %+v", id)
	}
	if len(ds.Relationships) != 1 {
		t.Fatalf("relationships = %d, want 1", len(ds.Relationships))
	}
	rel := ds.Relationships[0]
	if rel.Type != "1:N" || rel.FromTable != "orders" || rel.FromColumn != "user_id" ||
		rel.ToTable != "users" || rel.ToColumn != "id" {
		t.Fatalf("unexpected relationship: %+v", rel)
	}

	// One vision call, one extraction call.
	if got := mock.RequestCount(); got != 2 {
		t.Fatalf("request count = %d, want 2", got)
	}
}

func TestRun_StagesAreOrdered(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Responses = []string{testDescription, testSchemaJSON}

	if _, err := newTestExtractor(mock).Run(context.Background(), []byte("img")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	reqs := mock.Requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}

	vision := reqs[0]
	if vision.Model != "vision-model" {
		t.Fatalf("first call model = %q, want vision-model", vision.Model)
	}
	if len(vision.Messages) != 1 || vision.Messages[0].ImageURL == "" {
		t.Fatalf("vision call should carry one user message with an image, got %+v", vision.Messages)
	}
	if !strings.HasPrefix(vision.Messages[0].ImageURL, "data:image/png;base64,") {
		t.Fatalf("vision image should be a PNG data URL, got %q", vision.Messages[0].ImageURL)
	}

	extraction := reqs[1]
	if extraction.Model != "brain-model" {
		t.Fatalf("second call model = %q, want brain-model", extraction.Model)
	}
	if !extraction.JSONMode {
		t.Fatal("extraction call should request JSON mode")
	}
	if extraction.Messages[0].Role != providers.RoleSystem {
		t.Fatalf("extraction call should start with a system message, got role %q", extraction.Messages[0].Role)
	}
	if !strings.Contains(extraction.Messages[1].Content, testDescription) {
		t.Fatal("extraction prompt should embed the description")
	}
}

func TestRun_DescriptionFailureIsTerminal(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ShouldFail = true

	_, err := newTestExtractor(mock).Run(context.Background(), []byte("img"))
	if !errors.Is(err, ErrDescriptionFailed) {
		t.Fatalf("error = %v, want ErrDescriptionFailed", err)
	}
	// The vision stage is never retried.
	if got := mock.RequestCount(); got != 1 {
		t.Fatalf("request count = %d, want 1", got)
	}
}

func TestRun_EmptyDescriptionFails(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Responses = []string{"   "}

	_, err := newTestExtractor(mock).Run(context.Background(), []byte("img"))
	if !errors.Is(err, ErrDescriptionFailed) {
		t.Fatalf("error = %v, want ErrDescriptionFailed", err)
	}
}

func TestRun_ValidationExhaustion(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Responses = []string{testDescription, "not json", "still not json", "nope"}

	_, err := newTestExtractor(mock).Run(context.Background(), []byte("img"))
	if !errors.Is(err, ErrValidationExhausted) {
		t.Fatalf("error = %v, want ErrValidationExhausted", err)
	}
	// One vision call plus exactly three extraction attempts.
	if got := mock.RequestCount(); got != 4 {
		t.Fatalf("request count = %d, want 4", got)
	}
}

func TestRun_CorrectiveFeedbackOnRetry(t *testing.T) {
	mock := providers.NewMockClient()
	// First extraction attempt parses as JSON but fails schema validation.
	mock.Responses = []string{testDescription, `{"tables": "oops"}`, testSchemaJSON}

	ds, err := newTestExtractor(mock).Run(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(ds.Tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(ds.Tables))
	}
	if got := mock.RequestCount(); got != 3 {
		t.Fatalf("request count = %d, want 3", got)
	}

	// The retry must carry the previous output and the validation error back
	// to the model as a corrective exchange.
	retry := mock.Requests()[2]
	if len(retry.Messages) != 4 {
		t.Fatalf("retry messages = %d, want 4 (system, user, assistant, corrective user)", len(retry.Messages))
	}
	if retry.Messages[2].Role != providers.RoleAssistant ||
		!strings.Contains(retry.Messages[2].Content, `"oops"`) {
		t.Fatalf("retry should replay the failed output as an assistant message, got %+v", retry.Messages[2])
	}
	if retry.Messages[3].Role != providers.RoleUser ||
		!strings.Contains(retry.Messages[3].Content, "failed validation") {
		t.Fatalf("retry should feed back the validation error, got %+v", retry.Messages[3])
	}
}

func TestRun_ToleratesCodeFencedOutput(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Responses = []string{testDescription, "```json\n" + testSchemaJSON + "\n```"}

	ds, err := newTestExtractor(mock).Run(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(ds.Tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(ds.Tables))
	}
}

func TestRun_UpstreamFailureDuringExtractionIsRetried(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Responses = []string{testDescription, testSchemaJSON}
	mock.FailAfter = 1 // vision succeeds, every extraction attempt fails

	_, err := newTestExtractor(mock).Run(context.Background(), []byte("img"))
	if !errors.Is(err, ErrValidationExhausted) {
		t.Fatalf("error = %v, want ErrValidationExhausted", err)
	}
	if got := mock.RequestCount(); got != 4 {
		t.Fatalf("request count = %d, want 4", got)
	}
}
