package resume

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"portfolio/internal/database"
)

// printTemplateString 是打印页与 PDF 共用的 HTML 模板，A4 版式。
const printTemplateString = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Resume.Title}}</title>
    <style>
        @page { size: A4; margin: 18mm 16mm; }
        body {
            margin: 0;
            font-family: 'Helvetica Neue', Arial, sans-serif;
            font-size: 10.5pt;
            color: #222;
        }
        header { border-bottom: 2px solid #2f5d8a; padding-bottom: 8px; margin-bottom: 12px; }
        header h1 { margin: 0; font-size: 22pt; }
        header .contact { color: #555; margin-top: 4px; }
        .summary { margin-bottom: 12px; white-space: pre-line; }
        section { margin-bottom: 12px; page-break-inside: avoid; }
        section h2 { font-size: 13pt; color: #2f5d8a; border-bottom: 1px solid #ccc; margin: 0 0 6px; }
        .entry { margin-bottom: 6px; }
        .entry .heading { font-weight: bold; }
        .entry .meta { color: #666; font-size: 9.5pt; }
        .entry .body { white-space: pre-line; }
    </style>
</head>
<body>
    <header>
        <h1>{{.Name}}</h1>
        <div class="contact">
            {{- range $i, $c := .Contact}}{{if $i}} · {{end}}{{$c}}{{end -}}
        </div>
    </header>
    {{if .Resume.Summary}}<div class="summary">{{.Resume.Summary}}</div>{{end}}
    {{range .Sections}}
    <section>
        <h2>{{.Title}}</h2>
        {{range .Entries}}
        <div class="entry">
            <div class="heading">{{.Heading}}{{if .Subheading}} <span class="meta">{{.Subheading}}</span>{{end}}</div>
            {{if .Dates}}<div class="meta">{{.Dates}}</div>{{end}}
            {{if .Body}}<div class="body">{{.Body}}</div>{{end}}
            {{if .Link}}<div class="meta"><a href="{{.Link}}">{{.Link}}</a></div>{{end}}
        </div>
        {{end}}
    </section>
    {{end}}
</body>
</html>
`

var printTemplate = template.Must(template.New("print").Parse(printTemplateString))

// PrintEntry 是打印页中的一条记录。
type PrintEntry struct {
	Heading    string
	Subheading string
	Dates      string
	Body       string
	Link       string
}

// PrintSection 是打印页中的一个小节。
type PrintSection struct {
	Title   string
	Entries []PrintEntry
}

// PrintData 是打印模板的输入。
type PrintData struct {
	Name     string
	Contact  []string
	Resume   *database.Resume
	Sections []PrintSection
}

// BuildPrintData 组装打印数据，跳过空的小节。
func BuildPrintData(profile *database.Profile, resume *database.Resume, sections map[string][]database.SectionItem) PrintData {
	data := PrintData{Resume: resume}

	name := strings.Join(nonEmpty(profile.FName, profile.MName, profile.LName), " ")
	if name == "" {
		name = profile.Username
	}
	data.Name = name

	address := strings.Join(nonEmpty(profile.City, profile.State), ", ")
	if profile.Zipcode != "" {
		address = strings.TrimSpace(address + " " + profile.Zipcode)
	}
	data.Contact = nonEmpty(profile.Email, formatPhone(profile.PreferredPhone()), address)

	for _, k := range Kinds {
		items := sections[k.Plural]
		if len(items) == 0 {
			continue
		}
		sec := PrintSection{Title: k.Title}
		for _, item := range items {
			sec.Entries = append(sec.Entries, printEntry(item))
		}
		data.Sections = append(data.Sections, sec)
	}
	return data
}

// RenderPrintHTML 渲染打印页 HTML。
func RenderPrintHTML(data PrintData) ([]byte, error) {
	var buf bytes.Buffer
	if err := printTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render print html: %w", err)
	}
	return buf.Bytes(), nil
}

// PrintHTML 加载简历关联的条目并渲染打印页。
func (s *Service) PrintHTML(ctx context.Context, profile *database.Profile, resume *database.Resume) ([]byte, error) {
	sections, err := s.Sections(ctx, resume)
	if err != nil {
		return nil, err
	}
	return RenderPrintHTML(BuildPrintData(profile, resume, sections))
}

func printEntry(item database.SectionItem) PrintEntry {
	switch v := item.(type) {
	case *database.Experience:
		end := dateText(v.EndDate)
		if v.IsCurrent {
			end = "Present"
		}
		return PrintEntry{
			Heading:    v.JobTitle,
			Subheading: v.CompanyName,
			Dates:      dateRange(dateText(v.StartDate), end),
			Body:       v.Description,
		}
	case *database.Education:
		heading := v.Degree
		if v.FieldOfStudy != "" {
			heading = strings.TrimSpace(heading + ", " + v.FieldOfStudy)
		}
		return PrintEntry{
			Heading:    strings.TrimPrefix(heading, ", "),
			Subheading: v.InstitutionName,
			Dates:      dateRange(dateText(v.StartDate), dateText(v.EndDate)),
			Body:       v.Description,
		}
	case *database.Skill:
		return PrintEntry{Heading: v.Label(), Subheading: v.Proficiency}
	case *database.Project:
		return PrintEntry{Heading: v.Label(), Body: v.Description, Link: v.Link}
	case *database.Certification:
		sub := v.Issuer
		if v.CredentialID != "" {
			sub = strings.Join(nonEmpty(sub, "ID "+v.CredentialID), " · ")
		}
		return PrintEntry{
			Heading:    v.Label(),
			Subheading: sub,
			Dates:      dateRange(dateText(v.IssueDate), dateText(v.ExpirationDate)),
			Link:       v.CredentialURL,
		}
	case *database.Award:
		return PrintEntry{Heading: v.Label(), Subheading: v.Issuer, Dates: dateText(v.DateReceived), Body: v.Description}
	case *database.Language:
		return PrintEntry{Heading: v.Label(), Subheading: v.Proficiency}
	case *database.Interest:
		return PrintEntry{Heading: v.Label(), Body: v.Description}
	case *database.AdditionalInfo:
		return PrintEntry{Heading: v.Label(), Body: v.Content}
	default:
		return PrintEntry{Heading: item.Label()}
	}
}

func dateText(d *database.Date) string {
	if d == nil || d.IsZero() {
		return ""
	}
	return d.Time().Format("Jan 2006")
}

func dateRange(start, end string) string {
	switch {
	case start == "" && end == "":
		return ""
	case start == "":
		return end
	case end == "":
		return start
	default:
		return start + " – " + end
	}
}

func formatPhone(digits string) string {
	if len(digits) != 10 {
		return digits
	}
	return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
