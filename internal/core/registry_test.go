package core

import (
	"context"
	"testing"
	"time"
)

func TestRegistryAwaitTagDelivered(t *testing.T) {
	r := NewRegistry()

	resultCh := make(chan interface{}, 1)
	go func() {
		payload, err := r.AwaitTag(context.Background(), "tag1", 0)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		resultCh <- payload
	}()

	time.Sleep(10 * time.Millisecond)
	r.Dispatch("tag1", "hello")

	select {
	case got := <-resultCh:
		if got != "hello" {
			t.Errorf("expected %q, got %v", "hello", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for awaiter delivery")
	}
}

func TestRegistryAwaitTagTimeout(t *testing.T) {
	r := NewRegistry()
	_, err := r.AwaitTag(context.Background(), "tag1", 10*time.Millisecond)
	if err != ErrTimeout {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestRegistryAwaitTagCancelled(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.AwaitTag(ctx, "tag1", 0)
	if err != ErrCancelled {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestRegistryDispatchSecondTimeFallsThroughToStructural(t *testing.T) {
	r := NewRegistry()

	var invoked bool
	r.RegisterHandler(HandlerPath{Function: "action"}, func(node *BinaryNode) {
		invoked = true
	})

	// First dispatch is claimed by the awaiter and removed.
	go r.AwaitTag(context.Background(), "tag1", time.Second)
	time.Sleep(10 * time.Millisecond)
	r.Dispatch("tag1", &BinaryNode{Tag: "action"})

	// Second dispatch of the same tag has no more awaiter, so it must
	// fall through to structural matching.
	r.Dispatch("tag1", &BinaryNode{Tag: "action"})

	if !invoked {
		t.Error("expected structural handler to be invoked on the second dispatch")
	}
}

func TestSelectHandlersAttrValueBeatsAttrOnly(t *testing.T) {
	node := &BinaryNode{
		Tag:      "action",
		Attrs:    map[string]string{"add": "last"},
		AttrKeys: []string{"add"},
	}

	var calledSpecific, calledGeneric bool
	specific := handlerEntry{path: HandlerPath{Function: "action", AttrKey: "add", AttrVal: "last"}, fn: func(*BinaryNode) { calledSpecific = true }}
	generic := handlerEntry{path: HandlerPath{Function: "action", AttrKey: "add"}, fn: func(*BinaryNode) { calledGeneric = true }}

	matched := selectHandlers([]handlerEntry{generic, specific}, node)
	for _, h := range matched {
		h.fn(node)
	}

	if !calledSpecific {
		t.Error("expected the attr-value-specific handler to match")
	}
	if calledGeneric {
		t.Error("attr-value-specific match should exclude the value-agnostic handler")
	}
}

func TestSelectHandlersFallsBackToNoAttrKey(t *testing.T) {
	node := &BinaryNode{Tag: "response", Attrs: map[string]string{}, AttrKeys: nil}

	var called bool
	generic := handlerEntry{path: HandlerPath{Function: "response"}, fn: func(*BinaryNode) { called = true }}

	matched := selectHandlers([]handlerEntry{generic}, node)
	for _, h := range matched {
		h.fn(node)
	}
	if !called {
		t.Error("expected the no-attribute handler to match when the node carries no attributes")
	}
}

func TestFilterByChildPrefersExactChildTag(t *testing.T) {
	node := &BinaryNode{
		Tag:      "response",
		Children: []*BinaryNode{{Tag: "chat"}},
	}

	exact := handlerEntry{path: HandlerPath{ChildTag: "chat"}}
	fallback := handlerEntry{path: HandlerPath{ChildTag: ""}}

	matched := filterByChild([]handlerEntry{fallback, exact}, node)
	if len(matched) != 1 || matched[0].path.ChildTag != "chat" {
		t.Errorf("expected only the exact child-tag handler to match, got %+v", matched)
	}
}

func TestFilterByChildFallsBackWhenNoExactMatch(t *testing.T) {
	node := &BinaryNode{Tag: "response", Children: []*BinaryNode{{Tag: "contact"}}}

	fallback := handlerEntry{path: HandlerPath{ChildTag: ""}}
	matched := filterByChild([]handlerEntry{fallback}, node)
	if len(matched) != 1 {
		t.Errorf("expected the child-agnostic handler to match, got %+v", matched)
	}
}

func TestRegistryCloseCancelsPendingAwaiters(t *testing.T) {
	r := NewRegistry()

	errCh := make(chan error, 1)
	go func() {
		_, err := r.AwaitTag(context.Background(), "tag1", 0)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case err := <-errCh:
		if err != ErrCancelled {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Close to cancel the awaiter")
	}
}

func TestRegistryUnhandledSink(t *testing.T) {
	r := NewRegistry()

	var gotTag string
	r.SetUnhandledSink(func(tag string, payload interface{}) {
		gotTag = tag
	})

	r.Dispatch("orphan", &BinaryNode{Tag: "unregistered"})
	if gotTag != "orphan" {
		t.Errorf("expected unhandled sink to receive tag %q, got %q", "orphan", gotTag)
	}
}
