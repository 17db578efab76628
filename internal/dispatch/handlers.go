package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/basecamp"
)

// rawCall adapts a client method returning raw JSON into a Handler, keying
// the payload under a descriptive name as the original server's callers expect.
func rawCall(key string, fn func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error)) Handler {
	return func(ctx context.Context, c *basecamp.Client, p map[string]any) (any, error) {
		raw, err := fn(ctx, c, p)
		if err != nil {
			return nil, err
		}
		return map[string]any{key: raw}, nil
	}
}

// RegisterBasecampHandlers binds every catalogue tool to its upstream call.
// Registration fails if a handler names a tool the schema registry does not
// declare.
func RegisterBasecampHandlers(d *Dispatcher) error {
	handlers := map[string]Handler{
		"get_projects": rawCall("projects", func(ctx context.Context, c *basecamp.Client, _ map[string]any) (json.RawMessage, error) {
			return c.GetProjects(ctx)
		}),
		"get_project": rawCall("project", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.GetProject(ctx, str(p, "project_id"))
		}),
		"get_people": rawCall("people", func(ctx context.Context, c *basecamp.Client, _ map[string]any) (json.RawMessage, error) {
			return c.GetPeople(ctx)
		}),
		"get_todolists": rawCall("todolists", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.GetTodoLists(ctx, str(p, "project_id"))
		}),
		"get_todos": rawCall("todos", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.GetTodos(ctx, str(p, "project_id"), str(p, "todolist_id"))
		}),
		"create_todo": rawCall("todo", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			in := basecamp.CreateTodoInput{
				Content:     str(p, "content"),
				Description: str(p, "description"),
				DueOn:       str(p, "due_on"),
			}
			return c.CreateTodo(ctx, str(p, "project_id"), str(p, "todolist_id"), in)
		}),
		"complete_todo": rawCall("result", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.CompleteTodo(ctx, str(p, "project_id"), str(p, "todo_id"))
		}),
		"get_comments": rawCall("comments", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.GetComments(ctx, str(p, "project_id"), str(p, "recording_id"))
		}),
		"create_comment": rawCall("comment", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.CreateComment(ctx, str(p, "project_id"), str(p, "recording_id"), str(p, "content"))
		}),
		"update_comment": rawCall("comment", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.UpdateComment(ctx, str(p, "project_id"), str(p, "comment_id"), str(p, "content"))
		}),
		"delete_comment": rawCall("result", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.DeleteComment(ctx, str(p, "project_id"), str(p, "comment_id"))
		}),
		"get_campfire_lines": rawCall("lines", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.GetCampfireLines(ctx, str(p, "project_id"), str(p, "campfire_id"))
		}),
		"get_card_table": rawCall("card_table", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.GetCardTable(ctx, str(p, "project_id"))
		}),
		"get_columns": rawCall("columns", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.GetColumns(ctx, str(p, "project_id"))
		}),
		"get_cards": rawCall("cards", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.GetCards(ctx, str(p, "project_id"), str(p, "column_id"))
		}),
		"create_card": rawCall("card", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			in := basecamp.CreateCardInput{
				Title:   str(p, "title"),
				Content: str(p, "content"),
				DueOn:   str(p, "due_on"),
			}
			return c.CreateCard(ctx, str(p, "project_id"), str(p, "column_id"), in)
		}),
		"move_card": rawCall("result", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.MoveCard(ctx, str(p, "project_id"), str(p, "card_id"), str(p, "column_id"))
		}),
		"complete_card": rawCall("result", func(ctx context.Context, c *basecamp.Client, p map[string]any) (json.RawMessage, error) {
			return c.CompleteCard(ctx, str(p, "project_id"), str(p, "card_id"))
		}),
		"search": func(ctx context.Context, c *basecamp.Client, p map[string]any) (any, error) {
			search := basecamp.NewSearch(c)
			results, err := search.All(ctx, str(p, "query"), strSlice(p, "types"), boolean(p, "include_completed"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"results": results}, nil
		},
	}

	for name, h := range handlers {
		if err := d.Register(name, h); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return nil
}

func str(p map[string]any, key string) string {
	v, _ := p[key].(string)
	return v
}

func boolean(p map[string]any, key string) bool {
	v, _ := p[key].(bool)
	return v
}

func strSlice(p map[string]any, key string) []string {
	items, _ := p[key].([]any)
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
