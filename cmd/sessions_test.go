package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/clawrelay/internal/store"
)

func TestWriteSessionTable(t *testing.T) {
	state := store.SessionState{
		"agent:default:telegram:direct:1": {SessionID: "a", UpdatedAt: 1000, Channel: "telegram", ChatType: "direct", Label: "alice"},
		"agent:default:discord:group:9":   {SessionID: "b", UpdatedAt: 2000, Channel: "discord", ChatType: "group", ModelOverride: "gpt-4o", ProviderOverride: "openai"},
	}
	var buf bytes.Buffer
	writeSessionTable(&buf, state)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "KEY") {
		t.Errorf("header = %q", lines[0])
	}
	// Most recently updated first.
	if !strings.HasPrefix(lines[1], "agent:default:discord:group:9") {
		t.Errorf("first row = %q", lines[1])
	}
	if !strings.Contains(lines[1], "openai/gpt-4o") {
		t.Errorf("override missing from %q", lines[1])
	}
	if !strings.Contains(lines[2], "alice") {
		t.Errorf("label missing from %q", lines[2])
	}
}

func TestWriteTableAlignsWideRunes(t *testing.T) {
	var buf bytes.Buffer
	writeTable(&buf, [][]string{
		{"NAME", "X"},
		{"日本", "1"},
		{"ab", "2"},
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	// "日本" is four columns wide, same as "NAME".
	want := []string{"NAME  X", "日本  1", "ab    2"}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}
