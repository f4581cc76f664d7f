package extract_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"applytrack/internal/command"
	"applytrack/internal/extract"
	"applytrack/internal/services"
)

var boards = []string{"linkedin.com", "greenhouse.io"}

func TestLinksFromHTMLAndText(t *testing.T) {
	htmlBody := `<html><body>
<p><a href="https://www.linkedin.com/jobs/view/123/?trk=eml">Backend Engineer</a></p>
<a href="mailto:someone@example.com">mail</a>
<a href="https://www.linkedin.com/jobs/view/123/?trk=eml#top">duplicate</a>
</body></html>`
	textBody := "See https://boards.greenhouse.io/acme/jobs/42. Thanks"

	links := extract.Links(htmlBody, textBody)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %+v", links)
	}
	if links[0].Text != "Backend Engineer" {
		t.Fatalf("unexpected anchor text %q", links[0].Text)
	}
	if links[1].URL != "https://boards.greenhouse.io/acme/jobs/42" {
		t.Fatalf("unexpected bare url %q", links[1].URL)
	}
}

func TestHTMLText(t *testing.T) {
	text := extract.HTMLText(`<html><head><style>p{}</style></head><body><p>Backend Engineer</p><p>Acme</p><script>x()</script></body></html>`)
	if text != "Backend Engineer\nAcme" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestCanonicalURLDropsTracking(t *testing.T) {
	got := extract.CanonicalURL("https://WWW.LinkedIn.com/jobs/view/1?utm_source=x&trk=y&currentJobId=1#frag")
	if got != "https://www.linkedin.com/jobs/view/1?currentJobId=1" {
		t.Fatalf("unexpected canonical url %q", got)
	}
}

func TestRuleExtractorSubjectFormats(t *testing.T) {
	cases := []struct {
		subject string
		title   string
		company string
	}{
		{"Senior Engineer at Acme", "Senior Engineer", "Acme"},
		{"Fwd: Job alert: Data Analyst - Globex", "Data Analyst", "Globex"},
		{"Initech is hiring: Platform Engineer", "Platform Engineer", "Initech"},
	}
	rule := extract.NewRuleExtractor(boards)
	for _, tc := range cases {
		t.Run(tc.subject, func(t *testing.T) {
			postings, err := rule.Extract(context.Background(), extract.Message{
				Subject: tc.subject,
				Links:   []extract.Link{{URL: "https://boards.greenhouse.io/acme/jobs/1", Text: "Apply"}},
			})
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if len(postings) != 1 {
				t.Fatalf("expected 1 posting, got %+v", postings)
			}
			if postings[0].Title != tc.title || postings[0].Company != tc.company {
				t.Fatalf("got title=%q company=%q", postings[0].Title, postings[0].Company)
			}
		})
	}
}

func TestRuleExtractorUsesBodyContext(t *testing.T) {
	rule := extract.NewRuleExtractor(boards)
	postings, err := rule.Extract(context.Background(), extract.Message{
		Subject: "5 new jobs for you",
		Body:    "Backend Engineer\nAcme Corp\nRemote\n\nFrontend Engineer\nGlobex\nBerlin",
		Links: []extract.Link{
			{URL: "https://www.linkedin.com/jobs/view/1/", Text: "Backend Engineer"},
			{URL: "https://www.linkedin.com/jobs/view/2/", Text: "Frontend Engineer"},
			{URL: "https://www.linkedin.com/jobs/view/1/?trk=again", Text: "Backend Engineer"},
			{URL: "https://www.linkedin.com/comm/unsubscribe?x=1"},
			{URL: "https://example.com/jobs/3", Text: "Elsewhere"},
		},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(postings) != 2 {
		t.Fatalf("expected 2 postings, got %+v", postings)
	}
	if postings[0].Company != "Acme Corp" || postings[0].Location != "Remote" {
		t.Fatalf("unexpected first posting %+v", postings[0])
	}
	if postings[1].Company != "Globex" {
		t.Fatalf("unexpected second posting %+v", postings[1])
	}
}

type stubFallback struct {
	calls  int
	answer extract.Posting
	err    error
}

func (s *stubFallback) Name() string { return "stub" }

func (s *stubFallback) Fill(_ context.Context, _ extract.Message, p extract.Posting) (extract.Posting, error) {
	s.calls++
	if s.err != nil {
		return p, s.err
	}
	if p.Company == "" {
		p.Company = s.answer.Company
	}
	if p.Title == "" {
		p.Title = s.answer.Title
	}
	return p, nil
}

func TestPipelineOnlyFallsBackForIncompletePostings(t *testing.T) {
	fallback := &stubFallback{answer: extract.Posting{Company: "Umbrella"}}
	pipeline := extract.NewPipeline(extract.NewRuleExtractor(boards), fallback, time.Second, nil)

	postings, err := pipeline.Extract(context.Background(), extract.Message{
		Links: []extract.Link{
			{URL: "https://www.linkedin.com/jobs/view/1/", Text: "Engineer at Acme"},
			{URL: "https://www.linkedin.com/jobs/view/2/", Text: "Designer"},
		},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fallback.calls != 1 {
		t.Fatalf("expected one fallback call, got %d", fallback.calls)
	}
	if postings[1].Company != "Umbrella" {
		t.Fatalf("fallback result not merged: %+v", postings[1])
	}
}

func TestPipelineKeepsRuleResultWhenFallbackFails(t *testing.T) {
	fallback := &stubFallback{err: errors.New("down")}
	pipeline := extract.NewPipeline(extract.NewRuleExtractor(boards), fallback, time.Second, nil)

	postings, err := pipeline.Extract(context.Background(), extract.Message{
		Links: []extract.Link{{URL: "https://www.linkedin.com/jobs/view/9/", Text: "Designer"}},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(postings) != 1 || postings[0].Title != "Designer" {
		t.Fatalf("unexpected postings %+v", postings)
	}
}

type fakeRunner struct {
	spec   command.Spec
	stdout string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, spec command.Spec) (command.Result, error) {
	f.spec = spec
	return command.Result{Stdout: []byte(f.stdout)}, f.err
}

func TestCommandFallback(t *testing.T) {
	runner := &fakeRunner{stdout: `{"title":"Ignored","company":"Acme","location":"Remote"}`}
	fallback := extract.NewCommandFallback(runner, "extractor", []string{"--json"}, 2*time.Second)

	got, err := fallback.Fill(context.Background(), extract.Message{Subject: "hello"}, extract.Posting{URL: "https://x", Title: "Engineer"})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if got.Title != "Engineer" || got.Company != "Acme" || got.Location != "Remote" || got.URL != "https://x" {
		t.Fatalf("unexpected posting %+v", got)
	}
	if runner.spec.Name != "extractor" || runner.spec.Timeout != 2*time.Second || !strings.Contains(string(runner.spec.Stdin), `"subject":"hello"`) {
		t.Fatalf("unexpected spec %+v", runner.spec)
	}

	runner.stdout = "not json"
	if _, err := fallback.Fill(context.Background(), extract.Message{}, extract.Posting{}); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestCommandFallbackTrimsBodyOnRuneBoundary(t *testing.T) {
	runner := &fakeRunner{stdout: `{"company":"Acme"}`}
	fallback := extract.NewCommandFallback(runner, "extractor", nil, time.Second)
	body := strings.Repeat("a", 7999) + "é" + strings.Repeat("b", 100)

	if _, err := fallback.Fill(context.Background(), extract.Message{Body: body}, extract.Posting{URL: "https://x"}); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	var sent struct {
		Message extract.Message `json:"message"`
	}
	if err := json.Unmarshal(runner.spec.Stdin, &sent); err != nil {
		t.Fatalf("decode stdin: %v", err)
	}
	if strings.ContainsRune(sent.Message.Body, utf8.RuneError) {
		t.Fatal("trimmed body contains a replacement character")
	}
	if sent.Message.Body != strings.Repeat("a", 7999) {
		t.Fatalf("trimmed body has %d bytes, want 7999", len(sent.Message.Body))
	}
}

type fakeCompleter struct{ content string }

func (f fakeCompleter) CompleteJSON(context.Context, string, string) (string, error) {
	return f.content, nil
}

func TestLLMFallback(t *testing.T) {
	fallback := extract.NewLLMFallback(fakeCompleter{content: "```json\n{\"company\":\"Globex\",\"url\":\"https://evil\"}\n```"})
	got, err := fallback.Fill(context.Background(), extract.Message{}, extract.Posting{URL: "https://x", Title: "Engineer"})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if got.Company != "Globex" || got.URL != "https://x" {
		t.Fatalf("unexpected posting %+v", got)
	}
}
