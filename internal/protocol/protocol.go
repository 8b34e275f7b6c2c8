// Package protocol centralises parsing and formatting of the client
// WebSocket text protocol (spec.md §6). Tokenize is the one tokenizer
// both gateway and worker use, and every command is declared once in
// Registry as a descriptor (name, required keys). The gateway's
// ClientSession consults Registry only to reject unknown commands; the
// worker's dispatch also checks required keys with Validate. Outgoing
// frames are formatted at each call site, not from the descriptors.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Message is a parsed client/worker frame: a command name followed by
// zero or more key=value tokens, optionally with a trailing body
// (used by "paste", which carries a newline then raw content).
type Message struct {
	Command string
	Args    map[string]string
	Body    []byte // present for commands with a payload after a newline
	Raw     []byte // original frame, for forwarding verbatim when no inspection is needed
}

// Tokenize splits a single text frame into a Message. The first line
// is "cmd key=val key=val ..."; anything after the first '\n' is the
// body (spec.md §6's paste/saveas framing).
func Tokenize(frame []byte) Message {
	msg := Message{Args: make(map[string]string), Raw: frame}

	line := frame
	if idx := indexByte(frame, '\n'); idx >= 0 {
		line = frame[:idx]
		msg.Body = frame[idx+1:]
	}

	tokens := strings.Fields(string(line))
	if len(tokens) == 0 {
		return msg
	}
	msg.Command = tokens[0]
	for _, tok := range tokens[1:] {
		if eq := strings.IndexByte(tok, '='); eq >= 0 {
			msg.Args[tok[:eq]] = tok[eq+1:]
			continue
		}
		// "uno" carries its .uno:Command name positionally, not as a
		// key=value pair (spec.md §6/§8: "uno .uno:SelectAll").
		if msg.Command == "uno" && strings.HasPrefix(tok, ".uno:") {
			msg.Args["command"] = tok
			continue
		}
		msg.Args[tok] = ""
	}
	return msg
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Get returns an argument value, or "" and false if absent.
func (m Message) Get(key string) (string, bool) {
	v, ok := m.Args[key]
	return v, ok
}

// GetInt parses an argument as an int; ok is false if absent or
// unparsable.
func (m Message) GetInt(key string) (int, bool) {
	v, ok := m.Args[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CommandDescriptor declares the shape of one command: which keys must
// be present. Validate checks a message against this; unknown commands (not in
// the Registry) are rejected by the caller before a descriptor is even
// consulted (spec.md §4.4: unknown command -> kind=unknown).
type CommandDescriptor struct {
	Name         string
	RequiredKeys []string
}

// Validate checks that all required keys are present in msg.
func (d CommandDescriptor) Validate(msg Message) error {
	for _, key := range d.RequiredKeys {
		if _, ok := msg.Args[key]; !ok {
			return fmt.Errorf("missing required key %q for command %q", key, d.Name)
		}
	}
	return nil
}

// Registry is the full set of recognised client commands (spec.md §6).
// A command absent from this map is "unknown" and rejected with
// kind=unknown before it ever reaches a WorkerSession.
var Registry = map[string]CommandDescriptor{
	"load":                 {Name: "load", RequiredKeys: []string{"url"}},
	"status":               {Name: "status"},
	"tile":                 {Name: "tile", RequiredKeys: []string{"part", "width", "height", "tileposx", "tileposy", "tilewidth", "tileheight"}},
	"tilecombine":          {Name: "tilecombine", RequiredKeys: []string{"part", "width", "height", "tileposx", "tileposy", "tilewidth", "tileheight"}},
	"mouse":                {Name: "mouse"},
	"key":                  {Name: "key"},
	"uno":                  {Name: "uno"},
	"paste":                {Name: "paste", RequiredKeys: []string{"mimetype"}},
	"gettextselection":     {Name: "gettextselection", RequiredKeys: []string{"mimetype"}},
	"selecttext":           {Name: "selecttext"},
	"selectgraphic":        {Name: "selectgraphic"},
	"resetselection":       {Name: "resetselection"},
	"setclientpart":        {Name: "setclientpart"},
	"clientzoom":           {Name: "clientzoom"},
	"clientvisiblearea":    {Name: "clientvisiblearea"},
	"downloadas":           {Name: "downloadas"},
	"insertfile":           {Name: "insertfile"},
	"renderfont":           {Name: "renderfont", RequiredKeys: []string{"font"}},
	"partpagerectangles":   {Name: "partpagerectangles"},
	"setpage":              {Name: "setpage"},
	"invalidatetiles":      {Name: "invalidatetiles", RequiredKeys: []string{"part", "tileposx", "tileposy", "tilewidth", "tileheight"}},
	"requestloksession":    {Name: "requestloksession"},
	"canceltiles":          {Name: "canceltiles"},
	"saveas":               {Name: "saveas", RequiredKeys: []string{"url"}},
	"commandvalues":        {Name: "commandvalues", RequiredKeys: []string{"command"}},
	"getchildid":           {Name: "getchildid"},
	"disconnect":           {Name: "disconnect"},
}

// IsKnown reports whether cmd appears in the Registry.
func IsKnown(cmd string) bool {
	_, ok := Registry[cmd]
	return ok
}
