package authn

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-errors"
)

// FieldRedactor strips configured fields from user records.
type FieldRedactor struct {
	fields map[string]struct{}
}

// NewFieldRedactor returns a redactor for the given field names. Blank names
// are skipped and names that match no field are ignored on use.
func NewFieldRedactor(fields ...string) *FieldRedactor {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			set[f] = struct{}{}
		}
	}
	return &FieldRedactor{fields: set}
}

// Redact returns a shallow copy of record without the redacted fields.
func (r *FieldRedactor) Redact(record map[string]any) SanitizedUserView {
	view := make(SanitizedUserView, len(record))
	for k, v := range record {
		if _, redacted := r.fields[k]; redacted {
			continue
		}
		view[k] = v
	}
	return view
}

// passwordHashKey is the record key of User.PasswordHash
const passwordHashKey = "password"

// RedactUser converts user to its JSON shaped record and redacts it. The
// password hash is always stripped, whatever fields the redactor holds.
func (r *FieldRedactor) RedactUser(user *User) (SanitizedUserView, error) {
	if user == nil {
		return nil, ErrUserNotFound
	}

	record, err := userRecord(user)
	if err != nil {
		return nil, err
	}
	return r.Redact(record), nil
}

func userRecord(user *User) (map[string]any, error) {
	raw, err := json.Marshal(user)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to encode user record")
	}

	record := map[string]any{}
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to decode user record")
	}
	delete(record, passwordHashKey)
	return record, nil
}
