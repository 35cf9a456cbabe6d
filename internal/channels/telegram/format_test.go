package telegram

import "testing"

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"escapes", "a & <b>", "a &amp; &lt;b&gt;"},
		{"bold", "**bold** text", "<b>bold</b> text"},
		{"inline code", "use `a<b` here", "use <code>a&lt;b</code> here"},
		{"fence keeps markup literal", "```go\nx := \"**y**\"\n```", `<pre><code class="language-go">x := "**y**"</code></pre>`},
		{"fence without language", "```\na < b\n```", "<pre>a &lt; b</pre>"},
		{"link", "[site](https://x.io/a)", `<a href="https://x.io/a">site</a>`},
		{"quote in link target", "see [docs](https://x.io/a\"b) now", `see <a href="https://x.io/a&quot;b">docs</a> now`},
		{"italic", "_it_ here", "<i>it</i> here"},
		{"snake case untouched", "snake_case_name", "snake_case_name"},
		{"strike", "~~old~~", "<s>old</s>"},
		{"nested emphasis", "**bold _and it_**", "<b>bold <i>and it</i></b>"},
		{"heading", "# Title\n\nbody", "<b>Title</b>\n\nbody"},
		{"bullet list", "- one\n- two", "• one\n• two"},
		{"ordered list", "3. three\n4. four", "3. three\n4. four"},
		{"paragraphs", "first\nline\n\nsecond", "first\nline\n\nsecond"},
		{"blockquote", "> quoted", "<blockquote>quoted</blockquote>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := markdownToHTML(tt.in); got != tt.want {
				t.Errorf("markdownToHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestThreadIDForSend(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"1", 0},
		{"42", 42},
		{"nope", 0},
	}
	for _, tt := range tests {
		if got := threadIDForSend(tt.in); got != tt.want {
			t.Errorf("threadIDForSend(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestReplyParams(t *testing.T) {
	if replyParams("") != nil || replyParams("x") != nil {
		t.Fatal("invalid ids should not produce reply parameters")
	}
	p := replyParams("77")
	if p == nil || p.MessageID != 77 || !p.AllowSendingWithoutReply {
		t.Fatalf("params = %+v", p)
	}
}
