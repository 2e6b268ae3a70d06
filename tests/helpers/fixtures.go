package helpers

import (
	"encoding/json"
)

// TestUser represents a test user fixture
type TestUser struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Default test fixtures
var (
	DefaultTestUser = TestUser{
		Email:    "test@example.com",
		Password: "test-password-123",
	}
)

// DraftScopeDocument returns a small but complete scope document with an
// overview and a resourcing plan, serialized the way the scope engine emits it.
func DraftScopeDocument(projectName string) string {
	doc := map[string]interface{}{
		"overview": map[string]interface{}{
			"Project Name": projectName,
			"Domain":       "Healthcare",
			"Complexity":   "Medium",
			"Tech Stack":   "Go, PostgreSQL",
			"Use Cases":    "Appointment scheduling",
			"Compliance":   "HIPAA",
			"Duration":     "3 months",
		},
		"resourcing_plan": []map[string]interface{}{
			{
				"Role":       "Backend Developer",
				"Jan 2024":   "2",
				"Feb 2024":   "3",
				"Rate/Month": "$50",
				"Cost":       "$250",
			},
			{
				"Role":       "QA Engineer",
				"Jan 2024":   "1",
				"Feb 2024":   "1",
				"Rate/Month": "$40",
				"Cost":       "$80",
			},
		},
		"deliverables": []string{"API service", "Admin dashboard"},
	}
	data, _ := json.Marshal(doc)
	return string(data)
}

// ToJSON converts a fixture to JSON string
func ToJSON(fixture interface{}) string {
	data, _ := json.Marshal(fixture)
	return string(data)
}

// FromJSON parses JSON string to map
func FromJSON(jsonStr string) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal([]byte(jsonStr), &result)
	return result
}

// CreateTestLoginRequest creates a login request payload
func CreateTestLoginRequest(email, password string) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"password": password,
	}
}

// CreateTestRegenerateRequest creates a regeneration request payload
func CreateTestRegenerateRequest(instruction string) map[string]interface{} {
	return map[string]interface{}{
		"instruction": instruction,
	}
}

// MockScopeEngineResponse creates a mock response from the scope engine
func MockScopeEngineResponse(scopeText, summary string) map[string]interface{} {
	return map[string]interface{}{
		"scope":   json.RawMessage(scopeText),
		"summary": summary,
	}
}
