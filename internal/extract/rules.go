package extract

import (
	"context"
	"net/url"
	"regexp"
	"strings"
)

var (
	replyPrefix      = regexp.MustCompile(`(?i)^\s*((re|fwd?|fw)\s*:\s*)+`)
	subjectAlert     = regexp.MustCompile(`(?i)^(?:new\s+)?job\s+alert\s*:?\s*(.+?)\s+[-–|]\s+(.+)$`)
	subjectIsHiring  = regexp.MustCompile(`(?i)^(.+?)\s+is\s+hiring\s*(?:[:\-–]\s*|\s+an?\s+|\s+for\s+)(.+)$`)
	subjectAt        = regexp.MustCompile(`(?i)^(.+?)\s+at\s+(.+)$`)
	subjectRolePhase = regexp.MustCompile(`(?i)^(?:apply now|you may be a fit|jobs? for you|recommended)\s*:?\s*`)
)

var (
	nonPostingMarkers = []string{
		"unsubscribe", "preferences", "settings", "privacy", "/help", "/legal",
		"/feed", "/login", "/signup", "/mynetwork", "/messaging", "/notifications",
	}
	trackingParams = map[string]struct{}{
		"trk": {}, "trkemail": {}, "refid": {}, "trackingid": {}, "midtoken": {},
		"midsig": {}, "eid": {}, "lipi": {}, "otptoken": {}, "ref": {}, "src": {},
	}
	genericLinkText = []string{"apply", "view job", "view", "see more", "see all", "learn more", "click here", "here", "more"}
)

// RuleExtractor finds postings by matching links against known job board
// domains and reading titles and companies from the subject, anchor text and
// surrounding body lines.
type RuleExtractor struct {
	jobDomains []string
}

// NewRuleExtractor builds a rule extractor for the given job board domains.
func NewRuleExtractor(jobDomains []string) *RuleExtractor {
	return &RuleExtractor{jobDomains: append([]string(nil), jobDomains...)}
}

// Extract returns one posting per distinct job link in msg.
func (r *RuleExtractor) Extract(_ context.Context, msg Message) ([]Posting, error) {
	var postings []Posting
	seen := make(map[string]struct{})
	for _, link := range msg.Links {
		if !r.IsJobLink(link.URL) {
			continue
		}
		canonical := CanonicalURL(link.URL)
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}

		posting := Posting{URL: canonical}
		if title, company, ok := splitTitleCompany(link.Text); ok {
			posting.Title, posting.Company = title, company
		} else if looksLikeTitle(link.Text) {
			posting.Title = strings.TrimSpace(link.Text)
		}
		postings = append(postings, posting)
	}
	if len(postings) == 0 {
		return nil, nil
	}

	lines := bodyLines(msg.Body)
	for i := range postings {
		if postings[i].Title != "" && postings[i].Company == "" {
			postings[i] = postings[i].merge(contextFromBody(lines, postings[i].Title))
		}
	}
	if len(postings) == 1 {
		title, company := parseSubject(msg.Subject)
		postings[0] = postings[0].merge(Posting{Title: title, Company: company})
	}
	return postings, nil
}

// IsJobLink reports whether rawURL points at a posting on a configured job board.
func (r *RuleExtractor) IsJobLink(rawURL string) bool {
	if !HostMatches(rawURL, r.jobDomains) {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, marker := range nonPostingMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Trim(parsed.Path, "/") != ""
}

// CanonicalURL drops tracking parameters and fragments so the same posting
// linked from different mails maps to one URL.
func CanonicalURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	parsed.Fragment = ""
	query := parsed.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if _, ok := trackingParams[lower]; ok || strings.HasPrefix(lower, "utm_") {
			query.Del(key)
		}
	}
	parsed.RawQuery = query.Encode()
	parsed.Host = strings.ToLower(parsed.Host)
	return parsed.String()
}

func parseSubject(subject string) (title, company string) {
	subject = strings.TrimSpace(replyPrefix.ReplaceAllString(subject, ""))
	subject = strings.TrimSpace(subjectRolePhase.ReplaceAllString(subject, ""))
	if m := subjectAlert.FindStringSubmatch(subject); m != nil {
		return clean(m[1]), clean(m[2])
	}
	if m := subjectIsHiring.FindStringSubmatch(subject); m != nil {
		return clean(m[2]), clean(m[1])
	}
	if m := subjectAt.FindStringSubmatch(subject); m != nil {
		return clean(m[1]), clean(m[2])
	}
	return "", ""
}

func splitTitleCompany(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > 160 {
		return "", "", false
	}
	if m := subjectAt.FindStringSubmatch(text); m != nil {
		return clean(m[1]), clean(m[2]), true
	}
	return "", "", false
}

func contextFromBody(lines []string, title string) Posting {
	for i, line := range lines {
		if !strings.EqualFold(line, title) {
			continue
		}
		var found Posting
		if i+1 < len(lines) && looksLikeLabel(lines[i+1]) {
			found.Company = lines[i+1]
		}
		if i+2 < len(lines) && looksLikeLabel(lines[i+2]) {
			found.Location = lines[i+2]
		}
		return found
	}
	return Posting{}
}

func bodyLines(body string) []string {
	raw := strings.Split(body, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func looksLikeTitle(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) < 3 || len(text) > 120 || strings.Contains(text, "://") {
		return false
	}
	lower := strings.ToLower(text)
	for _, generic := range genericLinkText {
		if lower == generic {
			return false
		}
	}
	return true
}

func looksLikeLabel(line string) bool {
	return len(line) <= 80 && !strings.Contains(line, "://") && !strings.HasSuffix(line, ".")
}

func clean(value string) string {
	return strings.Trim(strings.TrimSpace(value), `"'.,;:!-–|`)
}
