package store

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSessionRecordKeepsUnknownFields(t *testing.T) {
	in := `{"sessionId":"s1","updatedAt":10,"providerOverride":"anthropic","future":[1,2]}`
	var r SessionRecord
	if err := json.Unmarshal([]byte(in), &r); err != nil {
		t.Fatal(err)
	}
	if r.SessionID != "s1" || r.ProviderOverride != "anthropic" {
		t.Fatalf("known fields = %+v", r)
	}
	if string(r.Extra["future"]) != "[1,2]" {
		t.Fatalf("extra = %v", r.Extra)
	}
	if _, ok := r.Extra["sessionId"]; ok {
		t.Fatal("known key leaked into Extra")
	}

	r.ProviderOverride = ""
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"future":[1,2]`) {
		t.Fatalf("unknown field dropped: %s", out)
	}
	if strings.Contains(string(out), "providerOverride") {
		t.Fatalf("cleared override should be absent: %s", out)
	}
}

func TestSessionStateCloneIsDeep(t *testing.T) {
	orig := SessionState{
		"k": {
			SessionID: "s",
			LastRoute: &DeliveryContext{Channel: "telegram", To: "1"},
			Extra:     map[string]json.RawMessage{"x": json.RawMessage(`1`)},
		},
	}
	c := orig.Clone()
	c["k"].SessionID = "changed"
	c["k"].LastRoute.To = "2"
	c["k"].Extra["x"][0] = '9'
	c["new"] = &SessionRecord{}

	if orig["k"].SessionID != "s" || orig["k"].LastRoute.To != "1" || string(orig["k"].Extra["x"]) != "1" {
		t.Fatalf("clone shares memory with original: %+v", orig["k"])
	}
	if _, ok := orig["new"]; ok {
		t.Fatal("clone shares the map")
	}
}
