package validation

import (
	"strings"
	"testing"
)

type voteRequest struct {
	UserID   int64 `json:"userId" validate:"required,gt=0"`
	WinnerID int64 `json:"winnerId" validate:"required,gt=0"`
}

type historyQuery struct {
	Limit int `json:"limit,omitempty" validate:"min=0,max=100"`
}

func TestValidateStruct_Passes(t *testing.T) {
	if err := ValidateStruct(&voteRequest{UserID: 1, WinnerID: 2}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStruct_UsesJSONNames(t *testing.T) {
	err := ValidateStruct(&voteRequest{UserID: 1})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(err.Fields) != 1 {
		t.Fatalf("expected 1 field error, got %d", len(err.Fields))
	}
	f := err.Fields[0]
	if f.Field != "winnerId" || f.Tag != "required" {
		t.Errorf("unexpected field error %+v", f)
	}
	if f.Message != "winnerId is required" {
		t.Errorf("unexpected message %q", f.Message)
	}
}

func TestValidateStruct_MultipleErrors(t *testing.T) {
	err := ValidateStruct(&voteRequest{UserID: -1, WinnerID: -2})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(err.Fields) != 2 {
		t.Fatalf("expected 2 field errors, got %d", len(err.Fields))
	}
	msg := err.Error()
	if !strings.Contains(msg, "userId must be greater than 0") || !strings.Contains(msg, "winnerId") {
		t.Errorf("unexpected combined message %q", msg)
	}
}

func TestValidateStruct_Max(t *testing.T) {
	err := ValidateStruct(&historyQuery{Limit: 500})
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := err.Fields[0].Message; got != "limit must be at most 100" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestGetValidator_Singleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("expected the same validator instance")
	}
}
