package validation

import (
	"testing"
)

func TestIsValidSlug(t *testing.T) {
	tests := []struct {
		slug  string
		valid bool
	}{
		{"acme", true},
		{"acme-support", true},
		{"a1-b2-c3", true},
		{"7eleven", true},

		// Invalid cases
		{"Acme", false},         // Uppercase
		{"-acme", false},        // Leading hyphen
		{"acme-", false},        // Trailing hyphen
		{"acme--support", false}, // Double hyphen
		{"acme support", false}, // Whitespace
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidSlug(tc.slug)
		if result != tc.valid {
			t.Errorf("IsValidSlug(%q) = %v, want %v", tc.slug, result, tc.valid)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"billing@acme.test", true},
		{"a.b+c@sub.example.com", true},

		// Invalid
		{"acme.test", false},
		{"@acme.test", false},
		{"billing@", false},
		{"billing @acme.test", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidEmail(tc.email)
		if result != tc.valid {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tc.email, result, tc.valid)
		}
	}
}

func TestSanitizeSlug(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"acme", "acme"},
		{"Acme-Support ", "acme-support"},
		{"  ACME  ", "acme"},
	}

	for _, tc := range tests {
		result := SanitizeSlug(tc.input)
		if result != tc.expected {
			t.Errorf("SanitizeSlug(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("name", "Acme Support"),
		ValidSlug("slug", "acme-support"),
		ValidEmail("contactEmail", "billing@acme.test"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("name", ""),
		ValidSlug("slug", "Not A Slug"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}
