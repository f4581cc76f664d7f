package extract

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var bareURLPattern = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)

// Links collects anchors from htmlBody and bare URLs from textBody, in
// document order and without duplicates.
func Links(htmlBody, textBody string) []Link {
	seen := make(map[string]int)
	var links []Link
	add := func(raw, text string) {
		normalized, ok := normalizeURL(raw)
		if !ok {
			return
		}
		text = strings.Join(strings.Fields(text), " ")
		if idx, exists := seen[normalized]; exists {
			if links[idx].Text == "" {
				links[idx].Text = text
			}
			return
		}
		seen[normalized] = len(links)
		links = append(links, Link{URL: normalized, Text: text})
	}

	if strings.TrimSpace(htmlBody) != "" {
		for _, anchor := range anchors(htmlBody) {
			add(anchor.URL, anchor.Text)
		}
	}
	for _, match := range bareURLPattern.FindAllString(textBody, -1) {
		add(strings.TrimRight(match, ".,;:!?"), "")
	}
	return links
}

func anchors(body string) []Link {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}
	var out []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if strings.EqualFold(attr.Key, "href") {
					out = append(out, Link{URL: attr.Val, Text: nodeText(n)})
					break
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return out
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteByte(' ')
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// HTMLText renders the visible text of an HTML document, one block per line.
func HTMLText(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			case "br", "p", "div", "tr", "li", "h1", "h2", "h3", "h4", "td":
				b.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func normalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	if parsed.Host == "" {
		return "", false
	}
	parsed.Fragment = ""
	parsed.Host = strings.ToLower(parsed.Host)
	return parsed.String(), true
}

// HostMatches reports whether rawURL's host equals or is a subdomain of any domain.
func HostMatches(rawURL string, domains []string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
