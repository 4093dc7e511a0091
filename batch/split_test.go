package batch

import "testing"

func TestSplitBasic(t *testing.T) {
	got := Split("SELECT 1;\nGO\nSELECT 2;\nGO 3")
	want := []Batch{
		{SQL: "SELECT 1;", RepeatCount: 1, StartLine: 1},
		{SQL: "SELECT 2;", RepeatCount: 3, StartLine: 3},
	}
	assertBatches(t, got, want)
}

func TestSplitGoEmbeddedInLineIsNotSeparator(t *testing.T) {
	got := Split("SELECT GOTO;\nGO")
	want := []Batch{{SQL: "SELECT GOTO;", RepeatCount: 1, StartLine: 1}}
	assertBatches(t, got, want)
}

func TestSplitConsecutiveGoProducesNoEmptyBatch(t *testing.T) {
	got := Split("SELECT 1;\nGO\nGO\nSELECT 2;")
	want := []Batch{
		{SQL: "SELECT 1;", RepeatCount: 1, StartLine: 1},
		{SQL: "SELECT 2;", RepeatCount: 1, StartLine: 4},
	}
	assertBatches(t, got, want)
}

func TestSplitCaseInsensitiveGo(t *testing.T) {
	got := Split("SELECT 1;\ngo\nSELECT 2;\nGo 2")
	if len(got) != 2 {
		t.Fatalf("got %d batches, want 2", len(got))
	}
	if got[1].RepeatCount != 2 {
		t.Errorf("RepeatCount = %d, want 2", got[1].RepeatCount)
	}
}

func TestSplitLeadingAndTrailingGo(t *testing.T) {
	got := Split("GO\nSELECT 1;\nGO")
	want := []Batch{{SQL: "SELECT 1;", RepeatCount: 1, StartLine: 2}}
	assertBatches(t, got, want)
}

func TestSplitNoTrailingGo(t *testing.T) {
	got := Split("SELECT 1;\nGO\nSELECT 2;")
	want := []Batch{
		{SQL: "SELECT 1;", RepeatCount: 1, StartLine: 1},
		{SQL: "SELECT 2;", RepeatCount: 1, StartLine: 3},
	}
	assertBatches(t, got, want)
}

func TestSplitRoundTrip(t *testing.T) {
	script := "CREATE TABLE t(id int);\nGO\nINSERT INTO t VALUES (1);\nGO 2\nSELECT * FROM t;"
	splits := Split(script)
	var rebuilt string
	for i, b := range splits {
		if i > 0 {
			rebuilt += "\nGO\n"
		}
		rebuilt += b.SQL
	}
	again := Split(rebuilt)
	if len(again) != len(splits) {
		t.Fatalf("round trip produced %d batches, want %d", len(again), len(splits))
	}
	for i := range splits {
		if again[i].SQL != splits[i].SQL {
			t.Errorf("batch %d: SQL = %q, want %q", i, again[i].SQL, splits[i].SQL)
		}
	}
}

func assertBatches(t *testing.T, got, want []Batch) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d batches, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].SQL != want[i].SQL || got[i].RepeatCount != want[i].RepeatCount || got[i].StartLine != want[i].StartLine {
			t.Errorf("batch %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
