package reply

import "testing"

func TestIsSilentReply(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"NO_REPLY", true},
		{"  NO_REPLY\n", true},
		{"NO_REPLY.", true},
		{"Nothing to add. NO_REPLY", true},
		{"NO_REPLYING", false},
		{"xNO_REPLY", false},
		{"please reply", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := IsSilentReply(tt.text); got != tt.want {
			t.Errorf("IsSilentReply(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
