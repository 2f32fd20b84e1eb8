package jira

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	jira "github.com/andygrunwald/go-jira"

	"pixelwatch/internal/domain"
	"pixelwatch/internal/httpx"
)

// jqlTimeLayout is the minute-precision date format JQL accepts.
const jqlTimeLayout = "2006/01/02 15:04"

var searchFields = []string{"summary", "description", "priority", "status", "created", "labels"}

// Client reads tickets from one Jira project and labels alerted ones.
type Client struct {
	client     *jira.Client
	baseURL    string
	project    string
	maxResults int
	location   *time.Location
}

type Options struct {
	BaseURL    string
	Email      string
	Token      string
	Project    string
	MaxResults int
	// Location is used to render JQL dates; Jira interprets them in the
	// account's timezone.
	Location *time.Location
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" || opts.Email == "" || opts.Token == "" {
		return nil, fmt.Errorf("jira: base url, email and token are required")
	}
	if opts.Project == "" {
		return nil, fmt.Errorf("jira: project is required")
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 50
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	tp := jira.BasicAuthTransport{
		Username: opts.Email,
		Password: opts.Token,
	}
	client, err := jira.NewClient(httpx.WithTransport(&tp), opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	return &Client{
		client:     client,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		project:    opts.Project,
		maxResults: opts.MaxResults,
		location:   opts.Location,
	}, nil
}

// RecentJQL builds the query for tickets created at or after since.
func RecentJQL(project string, since time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf(`project = "%s" AND created >= "%s" ORDER BY created DESC`,
		strings.ReplaceAll(project, `"`, `\"`), since.In(loc).Format(jqlTimeLayout))
}

// SearchRecent returns tickets created since the given time, newest first.
func (c *Client) SearchRecent(ctx context.Context, since time.Time) ([]domain.Ticket, error) {
	jql := RecentJQL(c.project, since, c.location)
	issues, resp, err := c.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{
		MaxResults: c.maxResults,
		Fields:     searchFields,
	})
	if err != nil {
		return nil, fmt.Errorf("search jira issues: %w (status: %d)", err, statusCode(resp))
	}

	tickets := make([]domain.Ticket, 0, len(issues))
	for _, issue := range issues {
		tickets = append(tickets, c.toTicket(issue))
	}
	log.Printf("jira search project=%s since=%s found=%d", c.project, since.Format(time.RFC3339), len(tickets))
	return tickets, nil
}

// AddLabel adds label to the issue without touching its other labels.
func (c *Client) AddLabel(ctx context.Context, key, label string) error {
	if strings.TrimSpace(label) == "" {
		return nil
	}
	data := map[string]interface{}{
		"update": map[string]interface{}{
			"labels": []map[string]interface{}{
				{"add": label},
			},
		},
	}
	resp, err := c.client.Issue.UpdateIssueWithContext(ctx, key, data)
	if err != nil {
		return fmt.Errorf("label jira issue %s: %w (status: %d)", key, err, statusCode(resp))
	}
	return nil
}

func (c *Client) toTicket(issue jira.Issue) domain.Ticket {
	t := domain.Ticket{
		ID:  issue.Key,
		URL: c.baseURL + "/browse/" + issue.Key,
	}
	f := issue.Fields
	if f == nil {
		return t
	}
	t.Summary = f.Summary
	t.Description = f.Description
	t.Created = time.Time(f.Created)
	t.Labels = f.Labels
	if f.Priority != nil {
		t.Priority = domain.ParsePriority(f.Priority.Name)
	}
	if f.Status != nil {
		t.Status = f.Status.Name
	}
	return t
}

func statusCode(resp *jira.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
