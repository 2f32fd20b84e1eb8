package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownOnce sync.Once
	markdownConv goldmark.Markdown
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownConv = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownConv
}

// RenderHTML converts dashboard markdown into a standalone HTML page.
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown().Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return `<html><body style="font-family: Calibri, Arial, sans-serif; font-size: 11pt; color: #1f1f1f; line-height: 1.35;">` +
		"\n" + buf.String() + `</body></html>`, nil
}

// OutputFiles are the paths written by WriteDashboard.
type OutputFiles struct {
	Markdown string
	HTML     string
	Email    string
}

// WriteDashboard writes the markdown, HTML and .eml draft for d into outputDir.
func WriteDashboard(d Dashboard, outputDir, subjectPrefix string) (OutputFiles, error) {
	var files OutputFiles
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return files, err
	}
	md := RenderMarkdown(d)
	htmlBody, err := RenderHTML(md)
	if err != nil {
		return files, err
	}

	stamp := d.To.Format("20060102")
	base := sanitizeFilename(subjectPrefix)

	files.Markdown = filepath.Join(outputDir, fmt.Sprintf("%s_%s.md", base, stamp))
	if err := os.WriteFile(files.Markdown, []byte(md), 0644); err != nil {
		return files, err
	}
	files.HTML = filepath.Join(outputDir, fmt.Sprintf("%s_%s.html", base, stamp))
	if err := os.WriteFile(files.HTML, []byte(htmlBody), 0644); err != nil {
		return files, err
	}
	files.Email = filepath.Join(outputDir, fmt.Sprintf("%s_%s.eml", base, stamp))
	subject := fmt.Sprintf("%s %s", subjectPrefix, d.To.Format("2006-01-02"))
	if err := os.WriteFile(files.Email, []byte(buildEML(subject, md, htmlBody, d.To)), 0644); err != nil {
		return files, err
	}
	return files, nil
}

func buildEML(subject, md, htmlBody string, date time.Time) string {
	const boundary = "pixelwatch-alt"
	headers := []string{
		"MIME-Version: 1.0",
		fmt.Sprintf("Date: %s", date.Format(time.RFC1123Z)),
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary),
		fmt.Sprintf("Subject: %s", subject),
	}
	plain := normalizeCRLF(markdownToPlain(md))

	var out strings.Builder
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")
	out.WriteString("--" + boundary + "\r\n")
	out.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(plain)
	if !strings.HasSuffix(plain, "\r\n") {
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n--" + boundary + "\r\n")
	out.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(normalizeCRLF(htmlBody))
	out.WriteString("\r\n--" + boundary + "--\r\n")
	return out.String()
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	return replacer.Replace(s)
}

func normalizeCRLF(s string) string {
	normalized := strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

// markdownToPlain strips heading markers and bold markers and collapses
// repeated blank lines.
func markdownToPlain(body string) string {
	var out []string
	prevBlank := false
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			line = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		}
		line = strings.ReplaceAll(line, "**", "")
		if strings.TrimSpace(line) == "" {
			if prevBlank {
				continue
			}
			prevBlank = true
			out = append(out, "")
			continue
		}
		prevBlank = false
		out = append(out, line)
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n"
}
