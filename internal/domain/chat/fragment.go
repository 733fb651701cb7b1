package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

type FragmentKind string

const (
	FragmentText    FragmentKind = "text"
	FragmentThought FragmentKind = "thought"
	FragmentTable   FragmentKind = "table"
)

// Fragment is a closed union: Text, Thought and Table are the only members.
type Fragment interface {
	Kind() FragmentKind
	isFragment()
}

type Text struct {
	Content string
}

// Thought renders like Text but the UI may collapse it.
type Thought struct {
	Content string
}

type Table struct {
	Headers []string
	Rows    [][]string
}

func (Text) Kind() FragmentKind    { return FragmentText }
func (Thought) Kind() FragmentKind { return FragmentThought }
func (Table) Kind() FragmentKind   { return FragmentTable }

func (Text) isFragment()    {}
func (Thought) isFragment() {}
func (Table) isFragment()   {}

// Fragments is the ordered content of a message.
type Fragments []Fragment

// Validate rejects an empty sequence and any table whose rows disagree with
// its header width.
func (fs Fragments) Validate() error {
	if len(fs) == 0 {
		return ErrEmptyContent
	}
	for i, f := range fs {
		if err := validateFragment(i, f); err != nil {
			return err
		}
	}
	return nil
}

func validateFragment(i int, f Fragment) error {
	switch v := f.(type) {
	case Text, Thought:
		return nil
	case Table:
		if len(v.Headers) == 0 && len(v.Rows) > 0 {
			return &MalformedFragmentError{Index: i, Kind: FragmentTable, Reason: "rows without headers"}
		}
		for r, row := range v.Rows {
			if len(row) != len(v.Headers) {
				return &MalformedFragmentError{
					Index:  i,
					Kind:   FragmentTable,
					Reason: fmt.Sprintf("row %d has %d cells, headers have %d", r, len(row), len(v.Headers)),
				}
			}
		}
		return nil
	case nil:
		return &MalformedFragmentError{Index: i, Reason: "nil fragment"}
	default:
		return &MalformedFragmentError{Index: i, Reason: fmt.Sprintf("unsupported fragment %T", f)}
	}
}

// PlainText joins the text fragments with a space. Thoughts and tables are
// skipped; this is the view handed to the LLM as conversation context.
func (fs Fragments) PlainText() string {
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		if t, ok := f.(Text); ok && strings.TrimSpace(t.Content) != "" {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, " ")
}

type tableContent struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

type wireFragment struct {
	Type    FragmentKind    `json:"type"`
	Content json.RawMessage `json:"content"`
}

func encodeFragment(f Fragment) (wireFragment, error) {
	var (
		raw []byte
		err error
	)
	switch v := f.(type) {
	case Text:
		raw, err = json.Marshal(v.Content)
	case Thought:
		raw, err = json.Marshal(v.Content)
	case Table:
		tc := tableContent{Headers: v.Headers, Rows: v.Rows}
		if tc.Headers == nil {
			tc.Headers = []string{}
		}
		if tc.Rows == nil {
			tc.Rows = [][]string{}
		}
		raw, err = json.Marshal(tc)
	default:
		return wireFragment{}, fmt.Errorf("encode fragment: unsupported %T", f)
	}
	if err != nil {
		return wireFragment{}, err
	}
	return wireFragment{Type: f.Kind(), Content: raw}, nil
}

func decodeFragment(i int, w wireFragment) (Fragment, error) {
	switch w.Type {
	case FragmentText, FragmentThought:
		var s string
		if err := json.Unmarshal(w.Content, &s); err != nil {
			return nil, &MalformedFragmentError{Index: i, Kind: w.Type, Reason: "content must be a string"}
		}
		if w.Type == FragmentThought {
			return Thought{Content: s}, nil
		}
		return Text{Content: s}, nil
	case FragmentTable:
		var tc tableContent
		if err := json.Unmarshal(w.Content, &tc); err != nil {
			return nil, &MalformedFragmentError{Index: i, Kind: w.Type, Reason: "content must be {headers, rows}"}
		}
		return Table{Headers: tc.Headers, Rows: tc.Rows}, nil
	default:
		return nil, &MalformedFragmentError{Index: i, Kind: w.Type, Reason: "unknown fragment type"}
	}
}

func (fs Fragments) MarshalJSON() ([]byte, error) {
	out := make([]wireFragment, 0, len(fs))
	for _, f := range fs {
		w, err := encodeFragment(f)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return json.Marshal(out)
}

func (fs *Fragments) UnmarshalJSON(data []byte) error {
	var wire []wireFragment
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := make(Fragments, 0, len(wire))
	for i, w := range wire {
		f, err := decodeFragment(i, w)
		if err != nil {
			return err
		}
		out = append(out, f)
	}
	*fs = out
	return nil
}
