package placeholder

import "testing"

func TestSubstituteBuiltin(t *testing.T) {
	ctx := NewContext().WithDefaultSchema("__mj").WithTimestamp("2026-01-30T00:00:00Z")
	got := Substitute("CREATE TABLE [${flyway:defaultSchema}].[T] -- ${unknown}", nil, ctx)
	want := "CREATE TABLE [__mj].[T] -- ${unknown}"
	if got != want {
		t.Errorf("Substitute() = %q, want %q", got, want)
	}
}

func TestUnsetBuiltinPassesThrough(t *testing.T) {
	ctx := NewContext().WithDefaultSchema("__mj")
	got := Substitute("${flyway:filename}", nil, ctx)
	if got != "${flyway:filename}" {
		t.Errorf("Substitute() = %q, want verbatim pass-through", got)
	}
}

func TestUserKeyShadowsBuiltin(t *testing.T) {
	ctx := NewContext().WithDefaultSchema("__mj")
	got := Substitute("${flyway:defaultSchema}", map[string]string{"flyway:defaultSchema": "override"}, ctx)
	if got != "override" {
		t.Errorf("Substitute() = %q, want user map to shadow built-in", got)
	}
}

func TestUserKey(t *testing.T) {
	got := Substitute("SELECT ${env}", map[string]string{"env": "prod"}, NewContext())
	if got != "SELECT prod" {
		t.Errorf("Substitute() = %q, want %q", got, "SELECT prod")
	}
}

func TestNoMatchingKeyIsNoOp(t *testing.T) {
	inputs := []string{
		"plain sql, no placeholders",
		"${completely_unknown}",
		"${flyway:doesNotExist}",
		"",
	}
	for _, in := range inputs {
		if got := Substitute(in, nil, NewContext()); got != in {
			t.Errorf("Substitute(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestReplacementIsNotRecursivelyExpanded(t *testing.T) {
	ctx := NewContext().WithDefaultSchema("${flyway:table}")
	got := Substitute("${flyway:defaultSchema}", nil, ctx)
	if got != "${flyway:table}" {
		t.Errorf("Substitute() = %q, want literal replacement with no nested expansion", got)
	}
}

func TestNonGreedyOverClosingBrace(t *testing.T) {
	got := Substitute("${a}${b}", map[string]string{"a": "1", "b": "2"}, NewContext())
	if got != "12" {
		t.Errorf("Substitute() = %q, want %q", got, "12")
	}
}
