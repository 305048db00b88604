package deps_test

import (
	"testing"

	"watchpod/internal/deps"
	"watchpod/internal/testsupport"
)

func TestCheckBinariesReportsStubbedTools(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	for _, status := range statuses {
		if !status.Available {
			t.Fatalf("%s should be available with stubbed binaries: %s", status.Name, status.Detail)
		}
	}
	if missing := deps.MissingRequired(statuses); len(missing) != 0 {
		t.Fatalf("expected no missing required deps, got %v", missing)
	}
}

func TestCheckBinariesReportsMissing(t *testing.T) {
	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "Nonexistent", Command: "definitely-not-a-real-binary-name"},
	})
	if len(statuses) != 1 || statuses[0].Available {
		t.Fatalf("expected unavailable status, got %+v", statuses)
	}
	if missing := deps.MissingRequired(statuses); len(missing) != 1 {
		t.Fatalf("expected 1 missing dep, got %v", missing)
	}
}
