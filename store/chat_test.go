package store

import (
	"context"
	"testing"
)

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	project, err := s.CreateProject(ctx, "p")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	conv, err := s.CreateConversation(ctx, project.ID, "Battery questions")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.NodeType != TypeChat {
		t.Errorf("node type = %q, want Chat", conv.NodeType)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got == nil || got.Title != "Battery questions" {
		t.Fatalf("got %+v", got)
	}
	if len(got.Messages()) != 0 {
		t.Errorf("fresh conversation has %d messages", len(got.Messages()))
	}

	convs, err := s.ListConversations(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != conv.ID {
		t.Errorf("listed %d conversations", len(convs))
	}

	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	gone, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation after delete: %v", err)
	}
	if gone != nil {
		t.Error("conversation still present after delete")
	}
}

func TestCreateConversationDefaultTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	project, err := s.CreateProject(ctx, "p")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	conv, err := s.CreateConversation(ctx, project.ID, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.Title != "New conversation" {
		t.Errorf("title = %q", conv.Title)
	}
}

func TestAppendMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	project, err := s.CreateProject(ctx, "p")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	conv, err := s.CreateConversation(ctx, project.ID, "c")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	_, err = s.AppendMessages(ctx, conv.ID, []ChatMessage{
		{Role: "user", Content: "what is an anode?"},
	})
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	updated, err := s.AppendMessages(ctx, conv.ID, []ChatMessage{
		{Role: "assistant", Content: "the negative electrode", TS: 1700000000},
	})
	if err != nil {
		t.Fatalf("AppendMessages second turn: %v", err)
	}

	msgs := updated.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = %q, %q", msgs[0].Role, msgs[1].Role)
	}
	if msgs[0].TS == 0 {
		t.Error("missing timestamp should default to now")
	}
	if msgs[1].TS != 1700000000 {
		t.Errorf("explicit timestamp lost: %d", msgs[1].TS)
	}
}

func TestAppendMessagesUnknownConversation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AppendMessages(context.Background(), "missing", []ChatMessage{
		{Role: "user", Content: "hi"},
	})
	if err == nil {
		t.Error("expected error for unknown conversation")
	}
}

func TestGetConversationRejectsNonChatNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	source := mustCreate(t, s, NewNode{NodeType: TypeSource, Title: "s"})

	got, err := s.GetConversation(ctx, source.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got != nil {
		t.Error("a Source node must not resolve as a conversation")
	}
}
