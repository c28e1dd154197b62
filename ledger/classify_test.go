package ledger

import (
	"reflect"
	"testing"
)

func TestExtractTags(t *testing.T) {
	got := ExtractTags("#现原豪门 #1v1向 正文")
	want := []string{"1v1向", "现原豪门"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractTags = %v, want %v", got, want)
	}

	got = ExtractTags("#a #b #a ## #")
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected deduplicated tags, got %v", got)
	}

	got = ExtractTags("no tags here")
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestClassify_Defaults(t *testing.T) {
	c := NewClassifier(DefaultKeywords())
	cases := []struct {
		content string
		want    Classification
	}{
		{
			content: "古风演绎 修仙宗门 招募中 群号 123456",
			want:    Classification{GroupType: GroupTypeDeduction, Worldview: WorldviewAncientFantasy},
		},
		{
			content: "日常闲聊水群 123456",
			want:    Classification{GroupType: GroupTypeExchange},
		},
		{
			content: "兼职刷单 日结 123456",
			want:    Classification{GroupType: GroupTypeSpam},
		},
		{
			content: "现代豪门 对戏 无审无设 可开车",
			want: Classification{
				GroupType:        GroupTypeDeduction,
				Worldview:        WorldviewModernOriginal,
				HasSexualContent: true,
				NoAuditSetting:   true,
			},
		},
		{
			content: "平平无奇的一句话",
			want:    Classification{},
		},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.content); got != tc.want {
			t.Fatalf("Classify(%q) = %+v, want %+v", tc.content, got, tc.want)
		}
	}
}

func TestClassify_Priority(t *testing.T) {
	c := NewClassifier(DefaultKeywords())

	// spam beats exchange beats deduction
	got := c.Classify("交流群 演绎 兼职")
	if got.GroupType != GroupTypeSpam {
		t.Fatalf("expected spam, got %q", got.GroupType)
	}
	got = c.Classify("交流群 演绎")
	if got.GroupType != GroupTypeExchange {
		t.Fatalf("expected exchange, got %q", got.GroupType)
	}

	// first worldview in declaration order wins
	got = c.Classify("星际 同人 魔法")
	if got.Worldview != WorldviewWesternFantasy {
		t.Fatalf("expected 西幻, got %q", got.Worldview)
	}
}

func TestClassify_CustomKeywordsIgnoreEmpty(t *testing.T) {
	c := NewClassifier(Keywords{Spam: []string{""}, Exchange: []string{"chat"}})
	got := c.Classify("anything")
	if got.GroupType != "" {
		t.Fatalf("empty keyword must not match, got %q", got.GroupType)
	}
	if got := c.Classify("a chat group"); got.GroupType != GroupTypeExchange {
		t.Fatalf("expected exchange, got %q", got.GroupType)
	}
}

func TestParseGroupType(t *testing.T) {
	cases := []struct {
		in   string
		want GroupType
	}{
		{"垃圾群", GroupTypeSpam},
		{"spam", GroupTypeSpam},
		{" Exchange ", GroupTypeExchange},
		{"演绎群", GroupTypeDeduction},
	}
	for _, tc := range cases {
		got, ok := ParseGroupType(tc.in)
		if !ok || got != tc.want {
			t.Fatalf("ParseGroupType(%q) = %q, %v", tc.in, got, ok)
		}
	}
	if _, ok := ParseGroupType("other"); ok {
		t.Fatalf("unknown group type should not parse")
	}
}
