package core

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var errUnknownContentKind = errors.New("core: unknown binary node content kind")

// BinaryDecoder is the external collaborator for decoding the
// plaintext that results from AES-CBC-decrypting an encrypted frame.
// It returns a node shaped [name, attrs, children] so the Correlation
// Registry's structural dispatch can walk it without caring about the
// concrete wire format.
type BinaryDecoder interface {
	Decode(data []byte) (*BinaryNode, error)
}

// BinaryEncoder is the write-side counterpart, used by the Connection
// Supervisor to turn an outgoing BinaryNode into bytes before
// encryption.
type BinaryEncoder interface {
	Encode(node *BinaryNode) []byte
}

// BinaryNode represents a decoded WhatsApp binary protocol node in the
// [name, attrs, children] shape the Correlation Registry's structural
// dispatch matches against.
type BinaryNode struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	AttrKeys []string          `json:"-"` // attrs in original wire order, for deterministic dispatch
	Children []*BinaryNode     `json:"children,omitempty"`
	Data     []byte            `json:"-"` // raw leaf bytes, when this node carries bytes instead of children
}

// FirstChildTag returns the tag of the first child, or "" if there are
// no children. Used by structural dispatch's third key (payload[2][0][0]).
func (n *BinaryNode) FirstChildTag() string {
	if n == nil || len(n.Children) == 0 {
		return ""
	}
	return n.Children[0].Tag
}

// dictionaryCodec is the default BinaryDecoder/BinaryEncoder
// implementation: a length-prefixed, dictionary-compressed node codec.
type dictionaryCodec struct{}

// NewBinaryCodec returns the default BinaryDecoder/BinaryEncoder pair
// used when no other codec is injected.
func NewBinaryCodec() *dictionaryCodec {
	return &dictionaryCodec{}
}

// Dictionary of common tags used in the WhatsApp binary protocol.
var tagDictionary = []string{
	"", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "",
	"", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "",
	"", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "",
	"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12", "13", "14", "15",
	"16", "17", "18", "19", "20", "21", "22", "23", "24", "25", "26", "27", "28", "29", "30",
	"account", "ack", "action", "active", "add", "after", "all", "allow", "and", "android",
	"announce", "archive", "available", "battery", "before", "block", "body", "broadcast",
	"call", "call-creator", "call-id", "cancel", "caption", "chat", "child", "clear",
	"code", "composing", "config", "contact", "contacts", "count", "create", "creator",
	"decrypt", "delete", "demote", "description", "device", "devices", "disappearing",
	"done", "download", "edit", "elapsed", "encoding", "encrypt", "end", "ephemeral",
	"error", "event", "exit", "exposure", "failure", "false", "fan_out", "file",
	"filename", "format", "from", "full", "g.us", "get", "gif", "group", "groups",
	"hash", "height", "host", "id", "image", "in", "inactive", "index", "info",
	"interactive", "invite", "ios", "iq", "is", "item", "items", "jid", "keep",
	"key", "keyvalue", "keys", "kind", "large", "last", "leave", "limit",
	"linked", "list", "live", "location", "locked", "md", "media", "media_type",
	"member", "merry", "message", "messages", "meta", "mime", "mirror", "mms",
	"modify", "msg", "mute", "name", "network", "new", "news", "newsletter", "none",
	"not", "notification", "notify", "number", "of", "offline", "opt", "order", "out",
	"owner", "paid", "pairing", "participant", "participants", "paused", "phash",
	"phone", "photo", "picture", "pin", "pinned", "platform", "pn", "preview", "previous",
	"primary", "private", "promote", "props", "protocol", "push", "pushname", "query",
	"quit", "quote", "rate", "read", "reason", "receipt", "received", "recipient", "remove",
	"removed", "reply", "report", "request", "require", "reset", "resource", "result",
	"retry", "revoke", "s.whatsapp.net", "screen", "search", "sec", "secret", "seen",
	"selected", "self", "sender", "serial", "server", "session", "set", "settings",
	"sf", "shake", "share", "short", "side", "sig", "silent", "size", "sky", "slow",
	"smax", "smbiz", "source", "sponsor", "srcjid", "starred", "start", "status",
	"sticky", "storage", "store", "stop", "subject", "subscribe", "success", "sync",
	"system", "t", "tag", "taken", "target", "template", "terminate", "text", "thread",
	"ticket", "time", "timestamp", "to", "token", "true", "type", "unavailable", "undefined",
	"unique", "unknown", "unlock", "unread", "until", "update", "upgrade", "url", "user",
	"users", "v", "value", "version", "video", "voip", "wa", "web", "webp", "width",
	"write", "xmlns", "xmpp", "you", "years",
}

// Encode encodes a BinaryNode to binary format.
func (c *dictionaryCodec) Encode(node *BinaryNode) []byte {
	buf := new(bytes.Buffer)
	encodeNode(buf, node)
	return buf.Bytes()
}

// Decode decodes binary data to a BinaryNode.
func (c *dictionaryCodec) Decode(data []byte) (*BinaryNode, error) {
	reader := bytes.NewReader(data)
	return decodeNode(reader)
}

func encodeNode(buf *bytes.Buffer, node *BinaryNode) {
	if node == nil {
		buf.WriteByte(0x00)
		return
	}

	numAttrs := len(node.AttrKeys)
	hasContent := len(node.Children) > 0 || len(node.Data) > 0

	descriptor := numAttrs << 1
	if hasContent {
		descriptor |= 1
	}

	buf.WriteByte(byte(descriptor))
	encodeString(buf, node.Tag)

	for _, key := range node.AttrKeys {
		encodeString(buf, key)
		encodeString(buf, node.Attrs[key])
	}

	switch {
	case len(node.Children) > 0:
		buf.WriteByte(contentKindChildren)
		buf.WriteByte(byte(len(node.Children)))
		for _, child := range node.Children {
			encodeNode(buf, child)
		}
	case len(node.Data) > 0:
		buf.WriteByte(contentKindData)
		encodeBytes(buf, node.Data)
	}
}

// contentKindChildren/contentKindData disambiguate a node's content
// once the descriptor's content bit says content follows. Without this
// tag byte, a children-count and a short data-blob's length prefix are
// indistinguishable.
const (
	contentKindChildren = 0x01
	contentKindData     = 0x02
)

func encodeString(buf *bytes.Buffer, s string) {
	for i, dictStr := range tagDictionary {
		if dictStr == s && dictStr != "" {
			buf.WriteByte(byte(i))
			return
		}
	}

	if len(s) < 128 {
		buf.WriteByte(byte(len(s)))
		buf.WriteString(s)
	} else {
		buf.WriteByte(0xFD)
		binary.Write(buf, binary.BigEndian, uint16(len(s)))
		buf.WriteString(s)
	}
}

func encodeBytes(buf *bytes.Buffer, data []byte) {
	if len(data) < 256 {
		buf.WriteByte(byte(len(data)))
	} else {
		buf.WriteByte(0xFE)
		binary.Write(buf, binary.BigEndian, uint32(len(data)))
	}
	buf.Write(data)
}

func decodeNode(reader *bytes.Reader) (*BinaryNode, error) {
	descriptor, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	if descriptor == 0x00 {
		return nil, nil
	}

	numAttrs := int(descriptor >> 1)
	hasContent := descriptor&1 == 1

	tag, err := decodeString(reader)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]string, numAttrs)
	attrKeys := make([]string, 0, numAttrs)
	for i := 0; i < numAttrs; i++ {
		key, err := decodeString(reader)
		if err != nil {
			return nil, err
		}
		val, err := decodeString(reader)
		if err != nil {
			return nil, err
		}
		attrs[key] = val
		attrKeys = append(attrKeys, key)
	}

	node := &BinaryNode{
		Tag:      tag,
		Attrs:    attrs,
		AttrKeys: attrKeys,
	}

	if hasContent {
		contentKind, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}

		switch contentKind {
		case contentKindChildren:
			count, err := reader.ReadByte()
			if err != nil {
				return nil, err
			}
			children := make([]*BinaryNode, count)
			for i := range children {
				child, err := decodeNode(reader)
				if err != nil {
					return nil, err
				}
				children[i] = child
			}
			node.Children = children
		case contentKindData:
			data, err := decodeBytes(reader)
			if err != nil {
				return nil, err
			}
			node.Data = data
		default:
			return nil, errUnknownContentKind
		}
	}

	return node, nil
}

func decodeString(reader *bytes.Reader) (string, error) {
	b, err := reader.ReadByte()
	if err != nil {
		return "", err
	}

	if int(b) < len(tagDictionary) && tagDictionary[b] != "" {
		return tagDictionary[b], nil
	}

	var length int
	if b == 0xFD {
		var l uint16
		if err := binary.Read(reader, binary.BigEndian, &l); err != nil {
			return "", err
		}
		length = int(l)
	} else {
		length = int(b)
	}

	buf := make([]byte, length)
	if _, err := reader.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func decodeBytes(reader *bytes.Reader) ([]byte, error) {
	b, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	var length int
	if b == 0xFE {
		var l uint32
		if err := binary.Read(reader, binary.BigEndian, &l); err != nil {
			return nil, err
		}
		length = int(l)
	} else {
		length = int(b)
	}

	buf := make([]byte, length)
	if _, err := reader.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
