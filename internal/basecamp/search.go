package basecamp

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Search filters Basecamp resources client-side: the API has no search
// endpoint, so matching runs over the list endpoints. Substring match,
// case-insensitive.
type Search struct {
	client *Client
}

func NewSearch(client *Client) *Search { return &Search{client: client} }

// SearchResults groups matches per resource kind.
type SearchResults struct {
	Projects []map[string]any `json:"projects,omitempty"`
	Todos    []map[string]any `json:"todos,omitempty"`
	Messages []map[string]any `json:"messages,omitempty"`
}

func matches(query string, fields ...any) bool {
	for _, f := range fields {
		s, ok := f.(string)
		if ok && strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}

func decodeList(raw json.RawMessage) []map[string]any {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

// Projects returns projects whose name or description contains query.
func (s *Search) Projects(ctx context.Context, query string) ([]map[string]any, error) {
	raw, err := s.client.GetProjects(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(query)
	var out []map[string]any
	for _, p := range decodeList(raw) {
		if matches(query, p["name"], p["description"]) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Todos walks every project's todolists and returns todos whose content or
// description contains query. Completed todos are skipped unless asked for.
func (s *Search) Todos(ctx context.Context, query string, includeCompleted bool) ([]map[string]any, error) {
	rawProjects, err := s.client.GetProjects(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(query)
	var out []map[string]any
	for _, p := range decodeList(rawProjects) {
		projectID := numberField(p, "id")
		if projectID == "" {
			continue
		}
		rawLists, err := s.client.GetTodoLists(ctx, projectID)
		if err != nil {
			continue // a project without a todoset is not an error
		}
		for _, list := range decodeList(rawLists) {
			listID := numberField(list, "id")
			if listID == "" {
				continue
			}
			rawTodos, err := s.client.GetTodos(ctx, projectID, listID)
			if err != nil {
				continue
			}
			for _, t := range decodeList(rawTodos) {
				if completed, _ := t["completed"].(bool); completed && !includeCompleted {
					continue
				}
				if matches(query, t["content"], t["description"]) {
					out = append(out, t)
				}
			}
		}
	}
	return out, nil
}

// Messages returns message-board posts whose subject or content contains query.
func (s *Search) Messages(ctx context.Context, query string) ([]map[string]any, error) {
	rawProjects, err := s.client.GetProjects(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(query)
	var out []map[string]any
	for _, p := range decodeList(rawProjects) {
		projectID := numberField(p, "id")
		if projectID == "" {
			continue
		}
		rawMsgs, err := s.client.GetMessages(ctx, projectID)
		if err != nil {
			continue
		}
		for _, m := range decodeList(rawMsgs) {
			if matches(query, m["subject"], m["content"]) {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// All searches the requested resource kinds; empty kinds means all of them.
func (s *Search) All(ctx context.Context, query string, kinds []string, includeCompleted bool) (*SearchResults, error) {
	if len(kinds) == 0 {
		kinds = []string{"projects", "todos", "messages"}
	}
	results := &SearchResults{}
	for _, kind := range kinds {
		var err error
		switch kind {
		case "projects":
			results.Projects, err = s.Projects(ctx, query)
		case "todos":
			results.Todos, err = s.Todos(ctx, query, includeCompleted)
		case "messages":
			results.Messages, err = s.Messages(ctx, query)
		}
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// numberField renders an id that may arrive as float64 or string.
func numberField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
