package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/martinemde/axonix/agentloop"
)

const (
	defaultWebMaxChars = 8000
	maxWebBodyBytes    = 2 << 20
	webTimeout         = 15 * time.Second
	webUserAgent       = "Mozilla/5.0 (compatible; axonix/1.0)"
)

func webGetTool(client *http.Client) agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "web_get",
			Description: "Fetch a URL and return its readable text. HTML is reduced to visible text.",
			Params: []agentloop.ParamSpec{
				{Name: "url", Required: true, Description: "http or https URL."},
				{Name: "max_chars", Description: "Maximum characters of text to return. Default: 8000."},
			},
		},
		Timeout: webTimeout + 5*time.Second,
		Executor: func(ctx context.Context, args map[string]string) (string, error) {
			maxChars, err := agentloop.GetInt(args, "max_chars", defaultWebMaxChars)
			if err != nil {
				return "", err
			}
			return fetchText(ctx, client, args["url"], maxChars)
		},
	}
}

func fetchText(ctx context.Context, client *http.Client, rawURL string, maxChars int) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", agentloop.NewExecutionError("invalid_url", "%q is not an http(s) URL", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, webTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", agentloop.NewExecutionError("invalid_url", "%v", err)
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", agentloop.NewExecutionError("fetch_timeout", "no response from %s within %s", u.Host, webTimeout)
		}
		return "", &agentloop.ExecutionError{Code: "fetch_failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebBodyBytes))
	if err != nil {
		return "", &agentloop.ExecutionError{Code: "fetch_failed", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", agentloop.NewExecutionError("http_status", "GET %s returned %s", u, resp.Status)
	}

	var title, text string
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml" || (mediaType == "" && looksLikeHTML(body)):
		title, text = extractHTML(string(body))
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") || mediaType == "":
		text = strings.TrimSpace(string(body))
	default:
		return "", agentloop.NewExecutionError("unsupported_content", "%s returned %s content (%d bytes)", u, mediaType, len(body))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[URL: %s]", u)
	if title != "" {
		sb.WriteString(" " + strings.TrimSpace(title))
	}
	sb.WriteString("\n\n")
	if maxChars > 0 && len(text) > maxChars {
		total := len(text)
		text = text[:runeBoundary(text, maxChars)]
		sb.WriteString(text)
		fmt.Fprintf(&sb, "\n[content truncated: showing %d of %d characters]", len(text), total)
	} else {
		sb.WriteString(text)
	}
	return sb.String(), nil
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// runeBoundary backs n off to the start of a UTF-8 sequence.
func runeBoundary(s string, n int) int {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return n
}

// skipElements are HTML elements whose content is not readable text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
}

// extractHTML returns the page title and its visible text.
func extractHTML(raw string) (string, string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", cleanWhitespace(raw)
	}
	var content strings.Builder
	extractText(doc, &content)
	return findTitle(doc), cleanWhitespace(content.String())
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			return n.FirstChild.Data
		}
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func extractText(n *html.Node, w *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		if isBlockElement(n.DataAtom) && w.Len() > 0 {
			w.WriteString("\n\n")
		}
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			w.WriteString(text)
			w.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, w)
	}
	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		w.WriteString("\n")
	}
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Figure, atom.Hr:
		return true
	}
	return false
}

// cleanWhitespace collapses runs of spaces within lines and repeated blank
// lines.
func cleanWhitespace(s string) string {
	var cleaned []string
	prevEmpty := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
