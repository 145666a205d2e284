package txn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type is the transaction direction.
type Type string

const (
	TypeCredit Type = "credit"
	TypeDebit  Type = "debit"
)

// Valid reports whether t is one of the known transaction types.
func (t Type) Valid() bool {
	return t == TypeCredit || t == TypeDebit
}

// ParseType parses a caller-supplied type, ignoring case and surrounding space.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q (want credit or debit)", s)
	}
	return t, nil
}

// Status is the server-reported transaction state. The set is open: servers
// may introduce values beyond the ones declared here.
type Status string

const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// ErrMissingID is returned when a record carries no usable identity.
var ErrMissingID = errors.New("record has no id")

// known lists the JSON keys decoded into typed fields.
var known = map[string]bool{"id": true, "type": true, "amount": true, "status": true}

// Record is a transaction as last reported by the server.
//
// Records are values. Clone before handing one to code that may mutate Extra.
type Record struct {
	ID     string
	Type   Type
	Amount string
	Status Status

	// Extra holds server-defined fields (created_at, updated_at, ...) verbatim.
	Extra map[string]json.RawMessage
}

// Validate checks the record can be merged. Only identity is required; every
// other field is the server's business.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrMissingID
	}
	return nil
}

// ShortID returns the first eight characters of the ID for display.
func (r Record) ShortID() string {
	return ShortID(r.ID)
}

// ShortID truncates an identifier to eight runes.
func ShortID(id string) string {
	n := 0
	for i := range id {
		if n == 8 {
			return id[:i]
		}
		n++
	}
	return id
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	if r.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// Field returns a passthrough field decoded into dst.
func (r Record) Field(name string, dst any) (bool, error) {
	raw, ok := r.Extra[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("field %s: %w", name, err)
	}
	return true, nil
}

// UnmarshalJSON decodes the typed fields and keeps the rest in Extra.
//
// The server may encode amount as a JSON number or string; both are kept as
// the decimal text.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("record must be a JSON object")
	}

	var rec Record
	if err := decodeText(fields["id"], &rec.ID); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	var typ, status string
	if err := decodeText(fields["type"], &typ); err != nil {
		return fmt.Errorf("type: %w", err)
	}
	if err := decodeText(fields["status"], &status); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if err := decodeText(fields["amount"], &rec.Amount); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	rec.Type = Type(typ)
	rec.Status = Status(status)

	for k, v := range fields {
		if known[k] {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]json.RawMessage)
		}
		rec.Extra[k] = append(json.RawMessage(nil), v...)
	}

	*r = rec
	return nil
}

// MarshalJSON writes the typed fields followed by the passthrough fields.
// Empty typed fields are omitted so a record that arrived without them
// re-encodes to the same shape.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+4)
	for k, v := range r.Extra {
		if known[k] {
			continue
		}
		out[k] = v
	}
	put := func(key, val string) error {
		if val == "" {
			return nil
		}
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
	if err := put("id", r.ID); err != nil {
		return nil, err
	}
	if err := put("type", string(r.Type)); err != nil {
		return nil, err
	}
	if err := put("amount", r.Amount); err != nil {
		return nil, err
	}
	if err := put("status", string(r.Status)); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// decodeText accepts a JSON string, a JSON number, or absence/null.
func decodeText(raw json.RawMessage, dst *string) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		return json.Unmarshal(raw, dst)
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("want string or number, got %s", raw)
	}
	*dst = n.String()
	return nil
}
