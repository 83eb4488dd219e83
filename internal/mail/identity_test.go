package mail

import (
	"reflect"
	"testing"
)

func TestParseMessageID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<m1@example.com>", "<m1@example.com>"},
		{"  <m1@example.com>  ", "<m1@example.com>"},
		{"Message-Id garbage", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := ParseMessageID(tc.in); got != tc.want {
			t.Fatalf("ParseMessageID(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseReferencesOrderAndDedup(t *testing.T) {
	raw := "<root@example.com> <r1@example.com>\r\n\t<root@example.com> <r2@example.com>"
	got := ParseReferences(raw)
	want := []string{"<root@example.com>", "<r1@example.com>", "<r2@example.com>"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseReferences = %v; want %v", got, want)
	}
}

func TestThreadIdentityRootFirst(t *testing.T) {
	got := ThreadIdentity(
		"<m3@example.com>",
		"<m1@example.com> <m2@example.com>",
		"<m2@example.com>",
	)
	want := []string{"<m1@example.com>", "<m2@example.com>", "<m3@example.com>"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ThreadIdentity = %v; want %v", got, want)
	}
}

func TestThreadIdentityInReplyToFallback(t *testing.T) {
	got := ThreadIdentity("<m2@example.com>", "", "<m1@example.com>")
	want := []string{"<m1@example.com>", "<m2@example.com>"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ThreadIdentity = %v; want %v", got, want)
	}
}

func TestThreadIdentitySelfAlreadyReferenced(t *testing.T) {
	// A message must not be appended twice when a broken mailer lists
	// the message's own id in References.
	got := ThreadIdentity(
		"<m2@example.com>",
		"<m1@example.com> <m2@example.com>",
		"",
	)
	want := []string{"<m1@example.com>", "<m2@example.com>"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ThreadIdentity = %v; want %v", got, want)
	}
}

func TestThreadIdentityStandaloneMessage(t *testing.T) {
	got := ThreadIdentity("<only@example.com>", "", "")
	want := []string{"<only@example.com>"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ThreadIdentity = %v; want %v", got, want)
	}
}

func TestExtractIssueIDs(t *testing.T) {
	text := "[Infra - Bug #123] build broken, see #45 and #123 again (#0 is not an issue)"
	got := ExtractIssueIDs(text)
	want := []int{123, 45}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractIssueIDs = %v; want %v", got, want)
	}

	if got := ExtractIssueIDs("no references here"); got != nil {
		t.Fatalf("ExtractIssueIDs = %v; want nil", got)
	}
}

func TestRenderTemplate(t *testing.T) {
	msg := &ParsedMessage{
		Envelope: Envelope{
			MessageID: "<m1@example.com>",
			Subject:   "build broken",
			From:      "Dana",
		},
		TextBody: "the nightly job fails",
	}

	got := RenderTemplate("{{subject}} (from {{from}})\n\n{{body}}", msg)
	want := "build broken (from Dana)\n\nthe nightly job fails"
	if got != want {
		t.Fatalf("RenderTemplate = %q; want %q", got, want)
	}
}

func TestRenderTemplateHTMLFallback(t *testing.T) {
	msg := &ParsedMessage{
		HTMLBody: "<p>only html</p>",
	}
	if got := RenderTemplate("{{body}}", msg); got != "<p>only html</p>" {
		t.Fatalf("RenderTemplate = %q; want html fallback", got)
	}
}
