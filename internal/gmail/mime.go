package gmail

import (
	"encoding/base64"
	"mime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"applytrack/internal/extract"
)

// RawMessage is the full-format message resource returned by the API.
type RawMessage struct {
	ID           string      `json:"id"`
	ThreadID     string      `json:"threadId"`
	HistoryID    string      `json:"historyId"`
	InternalDate string      `json:"internalDate"`
	Snippet      string      `json:"snippet"`
	LabelIDs     []string    `json:"labelIds"`
	Payload      MessagePart `json:"payload"`
}

// MessagePart is one node of the MIME tree.
type MessagePart struct {
	PartID   string        `json:"partId"`
	MimeType string        `json:"mimeType"`
	Filename string        `json:"filename"`
	Headers  []Header      `json:"headers"`
	Body     PartBody      `json:"body"`
	Parts    []MessagePart `json:"parts"`
}

// Header is a single MIME header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartBody holds inline part data, base64url encoded.
type PartBody struct {
	Size         int    `json:"size"`
	Data         string `json:"data"`
	AttachmentID string `json:"attachmentId"`
}

// Decoded is a message reduced to what the ingester needs.
type Decoded struct {
	ID         string
	ThreadID   string
	HistoryID  string
	From       string
	Subject    string
	ReceivedAt time.Time
	Text       string
	HTML       string
	Snippet    string
}

// Decode walks the MIME tree of msg and normalizes headers and bodies to NFKC.
func Decode(msg *RawMessage) Decoded {
	decoded := Decoded{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		HistoryID: msg.HistoryID,
		From:      normalize(decodeHeader(headerValue(msg.Payload.Headers, "From"))),
		Subject:   normalize(decodeHeader(headerValue(msg.Payload.Headers, "Subject"))),
		Snippet:   normalize(msg.Snippet),
	}
	if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil {
		decoded.ReceivedAt = time.UnixMilli(ms).UTC()
	}
	var texts, htmls []string
	collectBodies(msg.Payload, &texts, &htmls)
	decoded.Text = normalize(strings.Join(texts, "\n"))
	decoded.HTML = normalize(strings.Join(htmls, "\n"))
	return decoded
}

// Body returns the best plain-text rendering: text/plain first, then text
// derived from text/html, then the snippet.
func (d Decoded) Body() string {
	if strings.TrimSpace(d.Text) != "" {
		return d.Text
	}
	if strings.TrimSpace(d.HTML) != "" {
		if text := extract.HTMLText(d.HTML); text != "" {
			return text
		}
	}
	return d.Snippet
}

// SenderAddress returns the lower-cased address part of the From header.
func (d Decoded) SenderAddress() string {
	from := strings.TrimSpace(d.From)
	if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.LastIndex(from, ">"); end > start {
			from = from[start+1 : end]
		}
	}
	return strings.ToLower(strings.TrimSpace(from))
}

func collectBodies(part MessagePart, texts, htmls *[]string) {
	if part.Filename != "" || part.Body.AttachmentID != "" {
		return
	}
	mediaType := strings.ToLower(part.MimeType)
	if parsed, _, err := mime.ParseMediaType(part.MimeType); err == nil {
		mediaType = parsed
	}
	switch {
	case mediaType == "text/plain" && part.Body.Data != "":
		*texts = append(*texts, decodeData(part.Body.Data))
	case mediaType == "text/html" && part.Body.Data != "":
		*htmls = append(*htmls, decodeData(part.Body.Data))
	}
	for _, child := range part.Parts {
		collectBodies(child, texts, htmls)
	}
}

func decodeData(data string) string {
	data = strings.TrimRight(strings.TrimSpace(data), "=")
	raw, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(data); err != nil {
			return ""
		}
	}
	return strings.ReplaceAll(string(raw), "\r\n", "\n")
}

func headerValue(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

var wordDecoder = new(mime.WordDecoder)

func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func normalize(value string) string {
	return strings.TrimSpace(norm.NFKC.String(value))
}
