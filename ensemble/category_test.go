package ensemble

import "testing"

func TestCategorize(t *testing.T) {
	tests := []struct {
		question string
		want     Category
	}{
		{"What's a good passing drill for beginners?", CategoryTechnique},
		{"How do I improve my first touch?", CategoryTechnique},
		{"I get so nervous and lose confidence before matches", CategoryMental},
		{"How long should I stretch after a game to recover?", CategorySafetyAdjacent},
		{"Can I reschedule Thursday's session?", CategoryLogistics},
		{"Tell me about the history of the sport", CategoryGeneral},
		// tie between mental and technique goes to the earlier rule
		{"How do I keep focus on my passing?", CategoryMental},
	}
	for _, tt := range tests {
		if got := Categorize(tt.question); got != tt.want {
			t.Errorf("Categorize(%q) = %q, want %q", tt.question, got, tt.want)
		}
	}
}

func TestParseCategory(t *testing.T) {
	if c, err := ParseCategory("Safety"); err != nil || c != CategorySafetyAdjacent {
		t.Fatalf("ParseCategory = %q, %v", c, err)
	}
	if _, err := ParseCategory("weather"); err == nil {
		t.Fatal("expected error")
	}
}
