package basecamp

import (
	"context"
	"testing"
)

func searchFixture(t *testing.T) (*Search, func()) {
	fake := newFakeAPI(t)
	fake.handle("GET /999/projects.json", 200, `[
		{"id": 42, "name": "Website Redesign", "description": "marketing site"},
		{"id": 43, "name": "Mobile App", "description": ""}
	]`)
	fake.handle("GET /999/projects/42.json", 200,
		`{"id": 42, "dock": [
			{"id": 7002, "name": "todoset", "enabled": true},
			{"id": 7003, "name": "message_board", "enabled": true}
		]}`)
	fake.handle("GET /999/projects/43.json", 200, `{"id": 43, "dock": []}`)
	fake.handle("GET /999/buckets/42/todosets/7002/todolists.json", 200, `[{"id": 500}]`)
	fake.handle("GET /999/buckets/42/todolists/500/todos.json", 200, `[
		{"id": 1, "content": "Redesign the landing page", "completed": false},
		{"id": 2, "content": "Redesign the footer", "completed": true},
		{"id": 3, "content": "Ship newsletter", "completed": false}
	]`)
	fake.handle("GET /999/buckets/42/message_boards/7003/messages.json", 200, `[
		{"id": 10, "subject": "Redesign kickoff", "content": "notes"},
		{"id": 11, "subject": "Standup", "content": "status"}
	]`)
	c, srv := fake.client()
	return NewSearch(c), srv.Close
}

func TestSearchProjects(t *testing.T) {
	s, done := searchFixture(t)
	defer done()

	got, err := s.Projects(context.Background(), "redesign")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["name"] != "Website Redesign" {
		t.Errorf("projects = %v", got)
	}

	// Matching is case-insensitive and hits descriptions too.
	got, err = s.Projects(context.Background(), "MARKETING")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("description match missed: %v", got)
	}
}

func TestSearchTodos(t *testing.T) {
	s, done := searchFixture(t)
	defer done()

	got, err := s.Todos(context.Background(), "redesign", false)
	if err != nil {
		t.Fatal(err)
	}
	// The completed footer todo is excluded.
	if len(got) != 1 {
		t.Fatalf("todos = %v", got)
	}

	got, err = s.Todos(context.Background(), "redesign", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("with completed: todos = %v", got)
	}
}

func TestSearchAll(t *testing.T) {
	s, done := searchFixture(t)
	defer done()

	results, err := s.All(context.Background(), "redesign", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(results.Projects) != 1 {
		t.Errorf("projects = %v", results.Projects)
	}
	if len(results.Todos) != 1 {
		t.Errorf("todos = %v", results.Todos)
	}
	if len(results.Messages) != 1 {
		t.Errorf("messages = %v", results.Messages)
	}

	// Restricting kinds skips the rest.
	results, err = s.All(context.Background(), "redesign", []string{"projects"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(results.Projects) != 1 || results.Todos != nil || results.Messages != nil {
		t.Errorf("restricted results = %+v", results)
	}
}
