package basecamp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Responses are passed through as raw JSON: the upstream shapes belong to
// Basecamp and the dispatcher envelopes them without reinterpretation.

func (c *Client) GetProjects(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "projects.json", nil, nil)
}

func (c *Client) GetProject(ctx context.Context, projectID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%s.json", projectID), nil, nil)
}

func (c *Client) GetPeople(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "people.json", nil, nil)
}

// GetTodoLists resolves the project's todoset from its dock, then lists the
// todolists inside it.
func (c *Client) GetTodoLists(ctx context.Context, projectID string) (json.RawMessage, error) {
	todosetID, err := c.dockID(ctx, projectID, "todoset")
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("buckets/%s/todosets/%s/todolists.json", projectID, todosetID)
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *Client) GetTodos(ctx context.Context, projectID, todolistID string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/todolists/%s/todos.json", projectID, todolistID)
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

type CreateTodoInput struct {
	Content     string   `json:"content"`
	Description string   `json:"description,omitempty"`
	AssigneeIDs []string `json:"assignee_ids,omitempty"`
	DueOn       string   `json:"due_on,omitempty"`
}

func (c *Client) CreateTodo(ctx context.Context, projectID, todolistID string, in CreateTodoInput) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/todolists/%s/todos.json", projectID, todolistID)
	return c.do(ctx, http.MethodPost, path, nil, in)
}

func (c *Client) CompleteTodo(ctx context.Context, projectID, todoID string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/todos/%s/completion.json", projectID, todoID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Comments attach to any recording (todo, message, card, ...).

func (c *Client) GetComments(ctx context.Context, projectID, recordingID string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/recordings/%s/comments.json", projectID, recordingID)
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *Client) CreateComment(ctx context.Context, projectID, recordingID, content string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/recordings/%s/comments.json", projectID, recordingID)
	return c.do(ctx, http.MethodPost, path, nil, map[string]string{"content": content})
}

func (c *Client) UpdateComment(ctx context.Context, projectID, commentID, content string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/comments/%s.json", projectID, commentID)
	return c.do(ctx, http.MethodPut, path, nil, map[string]string{"content": content})
}

func (c *Client) DeleteComment(ctx context.Context, projectID, commentID string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/comments/%s.json", projectID, commentID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Campfire (chat).

func (c *Client) GetCampfires(ctx context.Context, projectID string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/chats.json", projectID)
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *Client) GetCampfireLines(ctx context.Context, projectID, campfireID string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/chats/%s/lines.json", projectID, campfireID)
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

// Messages.

func (c *Client) GetMessages(ctx context.Context, projectID string) (json.RawMessage, error) {
	boardID, err := c.dockID(ctx, projectID, "message_board")
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("buckets/%s/message_boards/%s/messages.json", projectID, boardID)
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

// Card tables. The dock names the project's card table "kanban_board"; its
// payload lists the columns.

func (c *Client) GetCardTable(ctx context.Context, projectID string) (json.RawMessage, error) {
	tableID, err := c.dockID(ctx, projectID, "kanban_board")
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("buckets/%s/card_tables/%s.json", projectID, tableID)
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *Client) GetColumns(ctx context.Context, projectID string) (json.RawMessage, error) {
	raw, err := c.GetCardTable(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var table struct {
		Lists json.RawMessage `json:"lists"`
	}
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("decoding card table: %w", err)
	}
	if table.Lists == nil {
		return json.RawMessage(`[]`), nil
	}
	return table.Lists, nil
}

func (c *Client) GetCards(ctx context.Context, projectID, columnID string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/card_tables/lists/%s/cards.json", projectID, columnID)
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

type CreateCardInput struct {
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	DueOn   string `json:"due_on,omitempty"`
}

func (c *Client) CreateCard(ctx context.Context, projectID, columnID string, in CreateCardInput) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/card_tables/lists/%s/cards.json", projectID, columnID)
	return c.do(ctx, http.MethodPost, path, nil, in)
}

func (c *Client) MoveCard(ctx context.Context, projectID, cardID, columnID string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/card_tables/cards/%s/moves.json", projectID, cardID)
	return c.do(ctx, http.MethodPost, path, nil, map[string]string{"column_id": columnID})
}

func (c *Client) CompleteCard(ctx context.Context, projectID, cardID string) (json.RawMessage, error) {
	path := fmt.Sprintf("buckets/%s/card_tables/cards/%s/completions.json", projectID, cardID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}
