package domain

// TestSummary aggregates the Test stage outcome
type TestSummary struct {
	TotalTests int     `json:"total_tests"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	Warnings   int     `json:"warnings"`
	PassRate   float64 `json:"pass_rate"`
	Verdict    string  `json:"verdict"`
}

// TestCase is one scenario the tester exercised
type TestCase struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Name     string `json:"name"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Status   string `json:"status"`
	Notes    string `json:"notes,omitempty"`
}

// TestIssue is a problem discovered during testing
type TestIssue struct {
	Severity       string `json:"severity"`
	TestID         string `json:"test_id"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// TestResult is produced at most once per run by the Test stage.
type TestResult struct {
	Summary         TestSummary `json:"summary"`
	TestCases       []TestCase  `json:"test_cases"`
	IssuesFound     []TestIssue `json:"issues_found"`
	Recommendations []string    `json:"recommendations"`
}
