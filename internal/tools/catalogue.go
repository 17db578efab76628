package tools

// Catalogue declares every Basecamp tool this server dispatches. Parameter
// names follow the Basecamp API's own vocabulary (project_id is the bucket).
func Catalogue() []Definition {
	reqStr := func(name, desc string) Param {
		return Param{Name: name, Type: "string", Required: true, Description: desc}
	}
	optStr := func(name, desc string) Param {
		return Param{Name: name, Type: "string", Description: desc}
	}

	return []Definition{
		{
			Name:        "get_projects",
			Description: "Get all projects visible to the authenticated account",
			ReadOnly:    true,
		},
		{
			Name:        "get_project",
			Description: "Get a single project by ID",
			ReadOnly:    true,
			Params:      []Param{reqStr("project_id", "Project ID")},
		},
		{
			Name:        "get_people",
			Description: "Get all people in the account",
			ReadOnly:    true,
		},
		{
			Name:        "get_todolists",
			Description: "Get all to-do lists for a project",
			ReadOnly:    true,
			Params:      []Param{reqStr("project_id", "Project ID")},
		},
		{
			Name:        "get_todos",
			Description: "Get all to-dos in a to-do list",
			ReadOnly:    true,
			Params: []Param{
				reqStr("project_id", "Project ID"),
				reqStr("todolist_id", "To-do list ID"),
			},
		},
		{
			Name:        "create_todo",
			Description: "Create a to-do in a to-do list",
			Params: []Param{
				reqStr("project_id", "Project ID"),
				reqStr("todolist_id", "To-do list ID"),
				reqStr("content", "The to-do text"),
				optStr("description", "Longer description, HTML allowed"),
				optStr("due_on", "Due date (YYYY-MM-DD)"),
			},
		},
		{
			Name:        "complete_todo",
			Description: "Mark a to-do as completed",
			Params: []Param{
				reqStr("project_id", "Project ID"),
				reqStr("todo_id", "To-do ID"),
			},
		},
		{
			Name:        "get_comments",
			Description: "Get comments on a recording (todo, message, card, ...)",
			ReadOnly:    true,
			Params: []Param{
				reqStr("project_id", "Project/bucket ID"),
				reqStr("recording_id", "Recording ID"),
			},
		},
		{
			Name:        "create_comment",
			Description: "Create a comment on a recording",
			Params: []Param{
				reqStr("project_id", "Project/bucket ID"),
				reqStr("recording_id", "Recording ID"),
				reqStr("content", "Comment content, HTML allowed"),
			},
		},
		{
			Name:        "update_comment",
			Description: "Update an existing comment",
			Params: []Param{
				reqStr("project_id", "Project/bucket ID"),
				reqStr("comment_id", "Comment ID"),
				reqStr("content", "New comment content"),
			},
		},
		{
			Name:        "delete_comment",
			Description: "Delete a comment",
			Params: []Param{
				reqStr("project_id", "Project/bucket ID"),
				reqStr("comment_id", "Comment ID"),
			},
		},
		{
			Name:        "get_campfire_lines",
			Description: "Get chat lines from a project campfire",
			ReadOnly:    true,
			Params: []Param{
				reqStr("project_id", "Project ID"),
				reqStr("campfire_id", "Campfire (chat) ID"),
			},
		},
		{
			Name:        "get_card_table",
			Description: "Get the card table for a project, including its columns",
			ReadOnly:    true,
			Params:      []Param{reqStr("project_id", "Project ID")},
		},
		{
			Name:        "get_columns",
			Description: "Get the columns of a project's card table",
			ReadOnly:    true,
			Params:      []Param{reqStr("project_id", "Project ID")},
		},
		{
			Name:        "get_cards",
			Description: "Get the cards in a card-table column",
			ReadOnly:    true,
			Params: []Param{
				reqStr("project_id", "Project ID"),
				reqStr("column_id", "Column ID"),
			},
		},
		{
			Name:        "create_card",
			Description: "Create a card in a card-table column",
			Params: []Param{
				reqStr("project_id", "Project ID"),
				reqStr("column_id", "Column ID"),
				reqStr("title", "Card title"),
				optStr("content", "Card content, HTML allowed"),
				optStr("due_on", "Due date (YYYY-MM-DD)"),
			},
		},
		{
			Name:        "move_card",
			Description: "Move a card to another column",
			Params: []Param{
				reqStr("project_id", "Project ID"),
				reqStr("card_id", "Card ID"),
				reqStr("column_id", "Destination column ID"),
			},
		},
		{
			Name:        "complete_card",
			Description: "Mark a card as complete",
			Params: []Param{
				reqStr("project_id", "Project ID"),
				reqStr("card_id", "Card ID"),
			},
		},
		{
			Name:        "search",
			Description: "Search projects, todos and messages for a query string",
			ReadOnly:    true,
			Params: []Param{
				reqStr("query", "Search query"),
				{Name: "types", Type: "array", Description: "Resource kinds to search: projects, todos, messages"},
				{Name: "include_completed", Type: "boolean", Description: "Include completed todos"},
			},
		},
	}
}
