package core

import "testing"

func TestBinaryCodecRoundTripLeaf(t *testing.T) {
	codec := NewBinaryCodec()

	node := &BinaryNode{
		Tag:      "chat",
		Attrs:    map[string]string{"jid": "1234@s.whatsapp.net", "count": "3"},
		AttrKeys: []string{"jid", "count"},
	}

	encoded := codec.Encode(node)
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Tag != node.Tag {
		t.Errorf("tag mismatch: got %q want %q", decoded.Tag, node.Tag)
	}
	if decoded.Attrs["jid"] != "1234@s.whatsapp.net" || decoded.Attrs["count"] != "3" {
		t.Errorf("attrs mismatch: %+v", decoded.Attrs)
	}
	if decoded.AttrKeys[0] != "jid" || decoded.AttrKeys[1] != "count" {
		t.Errorf("expected attribute order preserved, got %v", decoded.AttrKeys)
	}
}

func TestBinaryCodecRoundTripChildren(t *testing.T) {
	codec := NewBinaryCodec()

	node := &BinaryNode{
		Tag: "response",
		Children: []*BinaryNode{
			{Tag: "chat", Attrs: map[string]string{"jid": "a@s.whatsapp.net"}, AttrKeys: []string{"jid"}},
			{Tag: "chat", Attrs: map[string]string{"jid": "b@s.whatsapp.net"}, AttrKeys: []string{"jid"}},
		},
	}

	encoded := codec.Encode(node)
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(decoded.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(decoded.Children))
	}
	if decoded.Children[0].Attrs["jid"] != "a@s.whatsapp.net" {
		t.Errorf("child 0 mismatch: %+v", decoded.Children[0])
	}
	if decoded.FirstChildTag() != "chat" {
		t.Errorf("expected FirstChildTag \"chat\", got %q", decoded.FirstChildTag())
	}
}

func TestBinaryCodecRoundTripBytes(t *testing.T) {
	codec := NewBinaryCodec()

	node := &BinaryNode{
		Tag:  "action",
		Data: []byte("raw payload bytes"),
	}

	encoded := codec.Encode(node)
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if string(decoded.Data) != "raw payload bytes" {
		t.Errorf("data mismatch: got %q", decoded.Data)
	}
}

func TestBinaryCodecLongTagFallsOutsideDictionary(t *testing.T) {
	codec := NewBinaryCodec()
	longTag := "a-very-unusual-tag-name-not-in-the-dictionary"

	node := &BinaryNode{Tag: longTag}
	encoded := codec.Encode(node)
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Tag != longTag {
		t.Errorf("expected tag %q, got %q", longTag, decoded.Tag)
	}
}

func TestFirstChildTagEmptyForLeaf(t *testing.T) {
	var node *BinaryNode
	if node.FirstChildTag() != "" {
		t.Error("FirstChildTag on a nil node should return an empty string")
	}

	leaf := &BinaryNode{Tag: "chat"}
	if leaf.FirstChildTag() != "" {
		t.Error("FirstChildTag on a childless node should return an empty string")
	}
}
