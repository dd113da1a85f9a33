package errorcatcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode marks a stored record that cannot be turned back into a CaughtError.
var ErrDecode = errors.New("malformed stored error")

// StoredError is the persisted form of a CaughtError: flat queryable fields
// plus the full throwable tree as JSON.
//
// Encode writes ThrowableJSON and Tags. Decode also reads records written
// with TagsJSON instead of Tags, and flat records that only carry
// ThrowableStackTrace.
type StoredError struct {
	Timestamp           int64      `json:"timestamp"`
	ThrowableClassName  string     `json:"throwableClassName"`
	ThrowableMessage    string     `json:"throwableMessage"`
	ThrowableJSON       string     `json:"throwableJson,omitempty"`
	Tags                StoredTags `json:"tags,omitempty"`
	TagsJSON            string     `json:"tagsJson,omitempty"`
	ThrowableStackTrace []string   `json:"throwableStackTrace,omitempty"`
}

// StoredTags is written as a JSON object. It also reads a string holding
// the JSON-encoded object.
type StoredTags map[string]string

func (t *StoredTags) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*t = nil
			return nil
		}
		data = []byte(s)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	*t = m
	return nil
}

// Encode maps c to its stored form.
func Encode(c CaughtError) (StoredError, error) {
	s := StoredError{
		Timestamp:          c.Timestamp,
		ThrowableClassName: c.ClassName(),
		ThrowableMessage:   c.Message(),
		Tags:               copyTags(c.Tags),
	}
	if c.Throwable != nil {
		data, err := json.Marshal(c.Throwable)
		if err != nil {
			return StoredError{}, fmt.Errorf("encode throwable: %w", err)
		}
		s.ThrowableJSON = string(data)
	}
	return s, nil
}

// Decode maps a stored record back. The flat class name and message win over
// the ones inside ThrowableJSON.
func Decode(s StoredError) (CaughtError, error) {
	var t *Throwable
	switch {
	case s.ThrowableJSON != "":
		t = &Throwable{}
		if err := json.Unmarshal([]byte(s.ThrowableJSON), t); err != nil {
			return CaughtError{}, fmt.Errorf("%w: throwableJson: %v", ErrDecode, err)
		}
	case s.ThrowableClassName != "":
		t = &Throwable{StackTrace: s.ThrowableStackTrace}
	default:
		return CaughtError{}, fmt.Errorf("%w: no throwable", ErrDecode)
	}
	if s.ThrowableClassName != "" {
		t.ClassName = s.ThrowableClassName
	}
	if s.ThrowableMessage != "" || s.ThrowableJSON == "" {
		t.Message = s.ThrowableMessage
	}

	tags := map[string]string(s.Tags)
	if tags == nil && s.TagsJSON != "" {
		if err := json.Unmarshal([]byte(s.TagsJSON), &tags); err != nil {
			return CaughtError{}, fmt.Errorf("%w: tagsJson: %v", ErrDecode, err)
		}
	}

	return CaughtError{
		Timestamp: s.Timestamp,
		Throwable: t,
		Tags:      copyTags(tags),
	}, nil
}

// Marshal encodes c into a JSON document.
func Marshal(c CaughtError) ([]byte, error) {
	s, err := Encode(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// Unmarshal decodes a JSON document written by Marshal or by an older writer.
func Unmarshal(data []byte) (CaughtError, error) {
	var s StoredError
	if err := json.Unmarshal(data, &s); err != nil {
		return CaughtError{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Decode(s)
}
