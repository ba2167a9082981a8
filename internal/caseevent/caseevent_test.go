package caseevent

import (
	"errors"
	"testing"
)

func TestDecode_BarePayload(t *testing.T) {
	t.Parallel()

	p, err := Decode([]byte(`{
		"case_number": "CASE001",
		"case_sys_id": "abc123",
		"assignment_group": "Service Desk",
		"category": "Email",
		"short_description": "Cannot send mail"
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.CaseNumber != "CASE001" {
		t.Errorf("CaseNumber = %q, want CASE001", p.CaseNumber)
	}
	if p.AssignmentGroup != "Service Desk" {
		t.Errorf("AssignmentGroup = %q, want Service Desk", p.AssignmentGroup)
	}
	if p.ReceivedAt.IsZero() {
		t.Error("expected ReceivedAt to be stamped")
	}
}

func TestDecode_WrappedPayload(t *testing.T) {
	t.Parallel()

	p, err := Decode([]byte(`{"body": {
		"case_number": "CASE002",
		"case_sys_id": "def456",
		"short_description": "Onboarding request"
	}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.CaseNumber != "CASE002" {
		t.Errorf("CaseNumber = %q, want CASE002", p.CaseNumber)
	}
}

func TestDecode_MissingRequiredField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"no case number", `{"case_sys_id":"x","short_description":"y"}`},
		{"no sys id", `{"case_number":"CASE003","short_description":"y"}`},
		{"no short description", `{"case_number":"CASE003","case_sys_id":"x"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tt.body))
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("Decode error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{not json`))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Decode error = %v, want ErrInvalidPayload", err)
	}
}

func TestDecode_WrappedAndBareAgree(t *testing.T) {
	t.Parallel()

	inner := `{"case_number":"CASE004","case_sys_id":"s4","category":"Network","short_description":"vpn down"}`

	bare, err := Decode([]byte(inner))
	if err != nil {
		t.Fatalf("bare Decode: %v", err)
	}
	wrapped, err := Decode([]byte(`{"body":` + inner + `}`))
	if err != nil {
		t.Fatalf("wrapped Decode: %v", err)
	}

	if bare.CaseNumber != wrapped.CaseNumber || bare.Category != wrapped.Category {
		t.Errorf("bare and wrapped decode disagree: %+v vs %+v", bare, wrapped)
	}
}
