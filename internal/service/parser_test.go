package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat.Type != "json_object" || len(req.Messages) != 2 {
			t.Errorf("unexpected chat request: %+v", req)
		}
		if !strings.Contains(req.Messages[1].Content, "Visit ID: v1") {
			t.Errorf("expected visit id in user prompt, got %q", req.Messages[1].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
}

func TestClinicalParserParse(t *testing.T) {
	content := "```json\n" + `{
		"past_medical_history": ["asthma"],
		"current_symptoms": {"cough": "5 days"},
		"physical_exam_findings": {"lungs": "wheezes"},
		"diagnosis": "acute bronchitis",
		"treatment_plan": ["rest"],
		"prescriptions": [{"name": "Amoxicillin", "dosage": 500, "frequency": "three times daily", "duration": "7 days"}],
		"summary": "Cough, likely bronchitis."
	}` + "\n```"
	server := chatServer(t, http.StatusOK, content)
	defer server.Close()

	parser := NewClinicalParser(&ClinicalParserConfig{BaseURL: server.URL, Model: "gpt-test", APIKey: "k"})
	result, err := parser.Parse(context.Background(), "cough for five days", "v1", false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Summary == nil || *result.Summary != "Cough, likely bronchitis." {
		t.Errorf("unexpected summary: %v", result.Summary)
	}
	if !result.Structured.HasDiagnosis() {
		t.Error("expected a diagnosis")
	}
	plan := result.Structured.PlanLines()
	if len(plan) != 2 || plan[1] != "Amoxicillin 500 three times daily for 7 days" {
		t.Errorf("unexpected plan lines: %v", plan)
	}
}

func TestClinicalParserDegrades(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
	}{
		{"server error", http.StatusInternalServerError, "{}"},
		{"not json", http.StatusOK, "I could not find any clinical information."},
		{"malformed json", http.StatusOK, `{"diagnosis": "x",}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := chatServer(t, tt.status, tt.content)
			defer server.Close()

			parser := NewClinicalParser(&ClinicalParserConfig{BaseURL: server.URL, APIKey: "k"})
			if _, err := parser.Parse(context.Background(), "text", "v1", false); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestClinicalParserSimulate(t *testing.T) {
	parser := NewClinicalParser(&ClinicalParserConfig{})
	result, err := parser.Parse(context.Background(), SimulatedTranscript, "v1", true)
	if err != nil {
		t.Fatalf("Parse simulate: %v", err)
	}
	if result.Summary == nil || *result.Summary != "Patient with cough; likely acute bronchitis..." {
		t.Errorf("unexpected simulate summary: %v", result.Summary)
	}
	found := false
	for _, line := range result.Structured.PlanLines() {
		if strings.Contains(line, "Amoxicillin") {
			found = true
		}
	}
	if !found {
		t.Error("expected Amoxicillin in the simulated plan")
	}
}
