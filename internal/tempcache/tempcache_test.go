package tempcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tagwatch/tagwatch/internal/types"
)

func verdict(propertyID string, phase types.Phase) types.Verdict {
	return types.Verdict{
		PropertyID: propertyID,
		Phase:      phase,
		Status:     types.VerdictPassed,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
}

func TestAddVerdictRejectsOverwrite(t *testing.T) {
	c := New("run-1", "", nil)

	if err := c.AddVerdict(verdict("p1", types.Phase1)); err != nil {
		t.Fatalf("AddVerdict() error = %v", err)
	}
	if err := c.AddVerdict(verdict("p1", types.Phase1)); err == nil {
		t.Fatalf("AddVerdict(overwrite) = nil, want error")
	}
}

func TestPhase1TimeoutRowSurvivesPhase2(t *testing.T) {
	c := New("run-1", "", nil)

	placeholder := verdict("p1", types.Phase1)
	placeholder.Status = types.VerdictTimeout
	if err := c.AddVerdict(placeholder); err != nil {
		t.Fatalf("AddVerdict(placeholder) error = %v", err)
	}
	c.MarkQueuedForPhase2("p1")

	if err := c.AddVerdict(verdict("p1", types.Phase2)); err != nil {
		t.Fatalf("AddVerdict(phase 2) error = %v", err)
	}

	// Upload writes both rows with distinct phases; the phase-1 timeout row
	// is not replaced by the phase-2 outcome.
	entries := c.ExportForUpload()
	if len(entries) != 2 {
		t.Fatalf("ExportForUpload() returned %d entries, want 2", len(entries))
	}
	if entries[0].Verdict.Phase != types.Phase1 || entries[0].Verdict.Status != types.VerdictTimeout {
		t.Fatalf("entries[0] = phase %v status %v, want the phase-1 timeout row",
			entries[0].Verdict.Phase, entries[0].Verdict.Status)
	}
	if entries[1].Verdict.Phase != types.Phase2 || entries[1].Verdict.Status != types.VerdictPassed {
		t.Fatalf("entries[1] = phase %v status %v, want the phase-2 passed row",
			entries[1].Verdict.Phase, entries[1].Verdict.Status)
	}
}

func TestPhase2VerdictRequiresQueuedProperty(t *testing.T) {
	c := New("run-1", "", nil)

	if err := c.AddVerdict(verdict("p1", types.Phase2)); err == nil {
		t.Fatalf("AddVerdict(phase 2, not queued) = nil, want error")
	}
	c.MarkQueuedForPhase2("p1")
	if err := c.AddVerdict(verdict("p1", types.Phase2)); err != nil {
		t.Fatalf("AddVerdict(phase 2, queued) error = %v", err)
	}
	if err := c.AddVerdict(verdict("p1", types.Phase2)); err == nil {
		t.Fatalf("AddVerdict(duplicate phase 2) = nil, want error")
	}
}

func TestScreenshotsKeyedPerPhase(t *testing.T) {
	c := New("run-1", "", nil)

	_ = c.AddVerdict(verdict("p1", types.Phase1))
	c.MarkQueuedForPhase2("p1")
	_ = c.AddVerdict(verdict("p1", types.Phase2))
	c.AddScreenshot(&types.Screenshot{PropertyID: "p1", RunID: "run-1", Phase: types.Phase2, Bytes: []byte{0xff}})

	entries := c.ExportForUpload()
	if entries[0].Screenshot != nil {
		t.Fatalf("phase-1 entry has a screenshot, want nil")
	}
	if entries[1].Screenshot == nil || entries[1].Screenshot.Phase != types.Phase2 {
		t.Fatalf("phase-2 entry screenshot = %+v, want the phase-2 capture", entries[1].Screenshot)
	}
}

func TestClearEmptiesEverything(t *testing.T) {
	root := t.TempDir()
	c := New("run-1", root, nil)

	_ = c.AddVerdict(verdict("p1", types.Phase1))
	c.AddScreenshot(&types.Screenshot{PropertyID: "p1", RunID: "run-1", Phase: types.Phase1, Bytes: []byte{0xff, 0xd8}})

	mirror := filepath.Join(root, "run-1")
	if entries, _ := os.ReadDir(mirror); len(entries) == 0 {
		t.Fatalf("mirror dir empty before Clear, want one verdict file")
	}

	c.Clear()

	if c.VerdictCount() != 0 || c.ScreenshotCount() != 0 {
		t.Fatalf("counts = (%d,%d) after Clear, want (0,0)", c.VerdictCount(), c.ScreenshotCount())
	}
	if _, err := os.Stat(mirror); !os.IsNotExist(err) {
		t.Fatalf("mirror dir still exists after Clear")
	}
}

func TestExportPreservesInsertionOrder(t *testing.T) {
	c := New("run-1", "", nil)
	for _, id := range []string{"p3", "p1", "p2"} {
		if err := c.AddVerdict(verdict(id, types.Phase1)); err != nil {
			t.Fatalf("AddVerdict(%s) error = %v", id, err)
		}
	}
	entries := c.ExportForUpload()
	want := []string{"p3", "p1", "p2"}
	for i, id := range want {
		if entries[i].Verdict.PropertyID != id {
			t.Fatalf("entries[%d] = %s, want %s", i, entries[i].Verdict.PropertyID, id)
		}
	}
}

func TestMirrorRoundTrip(t *testing.T) {
	root := t.TempDir()
	c := New("run-9", root, nil)

	v := verdict("p1", types.Phase1)
	v.Issues = []types.Issue{types.CriticalIssue(types.IssueAnalyticsIDMismatch, "expected G-AAAA")}
	if err := c.AddVerdict(v); err != nil {
		t.Fatalf("AddVerdict() error = %v", err)
	}

	loaded, err := LoadMirror(root, "run-9")
	if err != nil {
		t.Fatalf("LoadMirror() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadMirror() returned %d verdicts, want 1", len(loaded))
	}
	if loaded[0].PropertyID != "p1" || len(loaded[0].Issues) != 1 {
		t.Fatalf("LoadMirror() verdict = %+v", loaded[0])
	}
}
