package pipeline

import (
	"testing"
)

func TestNewDataCleaner(t *testing.T) {
	cleaner := NewDataCleaner(nil)
	if cleaner == nil {
		t.Fatal("NewDataCleaner returned nil")
	}

	if len(cleaner.rules) != 2 {
		t.Errorf("expected 2 default rules, got %d", len(cleaner.rules))
	}
}

func TestDataCleanerKeepsDuplicatesByDefault(t *testing.T) {
	cleaner := NewDataCleaner(nil)

	cleaned, issues := cleaner.Clean([]Row{
		{Line: 2, Text: "light out", Category: "lighting"},
		{Line: 3, Text: "light out", Category: "lighting"},
	})
	if len(cleaned) != 2 || len(issues) != 0 {
		t.Fatalf("expected both rows kept, got %d rows and %d issues", len(cleaned), len(issues))
	}
}

func TestRequiredFieldsRule(t *testing.T) {
	rule := NewRequiredFieldsRule()

	tests := []struct {
		name    string
		row     Row
		wantErr bool
	}{
		{name: "valid row", row: Row{Text: "light out", Category: "lighting"}, wantErr: false},
		{name: "empty text", row: Row{Text: "", Category: "lighting"}, wantErr: true},
		{name: "empty category", row: Row{Text: "light out", Category: ""}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := tt.row
			_, err := rule.Apply(&row)
			if (err != nil) != tt.wantErr {
				t.Errorf("Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDuplicateDetectionRule(t *testing.T) {
	rule := NewDuplicateDetectionRule()

	first := Row{Line: 2, Text: "light out", Category: "lighting"}
	if _, err := rule.Apply(&first); err != nil {
		t.Fatalf("first row rejected: %v", err)
	}

	sameTextOtherCategory := Row{Line: 3, Text: "light out", Category: "roads"}
	if _, err := rule.Apply(&sameTextOtherCategory); err != nil {
		t.Errorf("same text with another category should pass: %v", err)
	}

	duplicate := Row{Line: 4, Text: "light out", Category: "lighting"}
	if _, err := rule.Apply(&duplicate); err == nil {
		t.Error("duplicate row should be rejected")
	}
}

func TestDataCleanerClean(t *testing.T) {
	cleaner := NewDataCleaner(nil)
	cleaner.AddRule(NewDuplicateDetectionRule())

	rows := []Row{
		{Line: 2, Text: "  <b>Street light</b> broken ", Category: " lighting "},
		{Line: 3, Text: "pothole", Category: "roads"},
		{Line: 4, Text: "   ", Category: "roads"},
		{Line: 5, Text: "no category", Category: ""},
		{Line: 6, Text: "Street   light broken", Category: "lighting"},
	}

	cleaned, issues := cleaner.Clean(rows)

	if len(cleaned) != 2 {
		t.Fatalf("expected 2 cleaned rows, got %d: %+v", len(cleaned), cleaned)
	}
	if cleaned[0].Text != "Street light broken" || cleaned[0].Category != "lighting" {
		t.Errorf("row not sanitized: %+v", cleaned[0])
	}
	if rows[0].Text != "  <b>Street light</b> broken " {
		t.Errorf("input rows should not be modified")
	}
	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %d", len(issues))
	}
	if issues[2].Type != "duplicate_detection" || issues[2].Severity != "low" || issues[2].Line != 6 {
		t.Errorf("unexpected duplicate issue %+v", issues[2])
	}

	stats := cleaner.GetStats()
	if stats.TotalProcessed != 5 || stats.Passed != 2 || stats.Rejected != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Corrected != 1 {
		t.Errorf("expected 1 corrected row, got %d", stats.Corrected)
	}
	if stats.Issues["required_fields"] != 2 || stats.Issues["duplicate_detection"] != 1 {
		t.Errorf("unexpected issue counts %v", stats.Issues)
	}
}

func TestDataCleanerIssues(t *testing.T) {
	cleaner := NewDataCleaner(nil)
	cleaner.Clean([]Row{
		{Line: 2, Text: "", Category: "a"},
		{Line: 3, Text: "", Category: "b"},
	})

	if got := cleaner.GetIssues(1); len(got) != 1 || got[0].Line != 3 {
		t.Errorf("GetIssues(1) = %+v", got)
	}
	if got := cleaner.GetIssues(0); len(got) != 2 {
		t.Errorf("GetIssues(0) returned %d issues", len(got))
	}

	cleaner.ClearIssues()
	if got := cleaner.GetIssues(0); len(got) != 0 {
		t.Errorf("expected no issues after clear, got %d", len(got))
	}
}
