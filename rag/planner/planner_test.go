package planner

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	got := Normalize("  What's a GOOD\tpassing drill???  ")
	if got != "what's a good passing drill" {
		t.Errorf("Normalize = %q", got)
	}
}

func TestPlan(t *testing.T) {
	p := New()
	tests := []struct {
		name     string
		question string
		want     []Query
	}{
		{
			name:     "empty question yields no queries",
			question: "   ",
			want:     nil,
		},
		{
			name:     "original only",
			question: "How long should I rest between games?",
			want: []Query{
				{Text: "how long should i rest between games", Kind: KindOriginal},
			},
		},
		{
			name:     "synonym and topic",
			question: "What's a good passing drill for beginners?",
			want: []Query{
				{Text: "what's a good passing drill for beginners", Kind: KindOriginal},
				{Text: "what's a good passing exercise for new players", Kind: KindSynonym},
				{Text: "passing drill beginners receiving technique vision weight of pass", Kind: KindTopic},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Plan(tt.question)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Plan() = %#v\nwant %#v", got, tt.want)
			}
		})
	}
}

func TestPlanIsDeterministicAndBounded(t *testing.T) {
	p := New()
	q := "I get nervous before games and my first touch falls apart"
	first := p.Plan(q)
	if len(first) < 1 || len(first) > MaxQueries {
		t.Fatalf("plan size %d out of bounds", len(first))
	}
	for i := 0; i < 10; i++ {
		if again := p.Plan(q); !reflect.DeepEqual(again, first) {
			t.Fatalf("plan changed between calls: %v vs %v", again, first)
		}
	}
}

func TestCustomTables(t *testing.T) {
	p := New(
		WithSynonyms([]Synonym{{Phrase: "keeper", Replacement: "goalkeeper"}}),
		WithTopics([]Topic{{Name: "gk", Triggers: []string{"keeper"}, Keywords: []string{"diving"}}}),
	)
	got := p.Plan("keeper tips")
	if len(got) != 3 || got[1].Text != "goalkeeper tips" || got[2].Text != "keeper diving" {
		t.Fatalf("Plan() = %#v", got)
	}
}
