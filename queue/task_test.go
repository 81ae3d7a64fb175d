package queue

import "testing"

func TestScoreCombinesWeightAndAdjustments(t *testing.T) {
	m := Metadata{Priority: PriorityHigh, Category: CategoryBugfix, Complexity: ComplexitySimple}
	got := Score(m)
	want := 75 + 20 + 5
	if got != want {
		t.Fatalf("Score() = %d, want %d", got, want)
	}
}

func TestScoreSecurityCriticalComplex(t *testing.T) {
	m := Metadata{Priority: PriorityCritical, Category: CategorySecurity, Complexity: ComplexityComplex}
	got := Score(m)
	want := 100 + 30 - 5
	if got != want {
		t.Fatalf("Score() = %d, want %d", got, want)
	}
}

func TestDeriveGroupIDMostFrequentPrefix(t *testing.T) {
	paths := []string{
		"internal/worker/pool.go",
		"internal/worker/task.go",
		"internal/scheduler/loop.go",
	}
	got := DeriveGroupID(paths)
	want := "group:internal/worker"
	if got != want {
		t.Fatalf("DeriveGroupID() = %q, want %q", got, want)
	}
}

func TestDeriveGroupIDEmptyWhenNoPaths(t *testing.T) {
	if got := DeriveGroupID(nil); got != "" {
		t.Fatalf("expected empty group-id, got %q", got)
	}
}

func TestExtractMetadataFromLabelsAndBody(t *testing.T) {
	p := Payload{
		Labels: []string{"priority:critical", "type:security", "complexity:complex", "unrelated"},
		Body:   "Fix the auth bypass.\n\nAffected Paths\n- `internal/auth/middleware.go`\n- `internal/auth/token.go`\n",
	}
	m := ExtractMetadata(p)
	if m.Priority != PriorityCritical || m.Category != CategorySecurity || m.Complexity != ComplexityComplex {
		t.Fatalf("unexpected metadata: %+v", m)
	}
	if len(m.AffectedPaths) != 2 || m.AffectedPaths[0] != "internal/auth/middleware.go" {
		t.Fatalf("unexpected affected paths: %v", m.AffectedPaths)
	}
}

func TestExtractMetadataDefaultsWhenLabelsAbsent(t *testing.T) {
	m := ExtractMetadata(Payload{})
	if m.Priority != PriorityMedium || m.Category != CategoryFeature || m.Complexity != ComplexityModerate {
		t.Fatalf("unexpected defaults: %+v", m)
	}
}

func TestNewTaskDerivesScoreAndGroup(t *testing.T) {
	task := NewTask("task_1", Payload{
		Labels: []string{"priority:low", "type:docs"},
		Body:   "Affected Paths\n- `docs/guide.md`\n",
	}, 3)

	wantScore := 25 - 10 + 0 // low + docs + moderate(0)
	if task.PriorityScore != wantScore {
		t.Fatalf("PriorityScore = %d, want %d", task.PriorityScore, wantScore)
	}
	if task.GroupID != "group:docs/guide.md" {
		t.Fatalf("GroupID = %q, want group:docs/guide.md", task.GroupID)
	}
}
