package state

import (
	"errors"
	"fmt"
	"time"

	"animarr/internal/request"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReviveRequest rebuilds the request an entity document was fetched
// through.
func ReviveRequest(doc bson.M) (*request.Request, error) {
	raw, ok := doc["req"]
	if !ok {
		return nil, errors.New("document has no req")
	}

	var st request.State
	if err := Decode(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode request state: %w", err)
	}

	return request.FromState(st), nil
}

// Decode converts a loosely typed bson value, usually a bson.M pulled
// out of a document, into out.
func Decode(v any, out any) error {
	raw, err := bson.Marshal(v)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

// AsTime unwraps a time value regardless of whether it came straight
// from the driver or was set in code.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

// AsStringSlice unwraps a string slice from the various shapes bson
// documents carry them in.
func AsStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case bson.A:
		return stringSlice(s)
	case []any:
		return stringSlice(s)
	}
	return nil, false
}

func stringSlice(values []any) ([]string, bool) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// AsInt unwraps the numeric types the driver decodes into.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// AsDoc unwraps an embedded document to bson.M.
func AsDoc(v any) (bson.M, bool) {
	switch doc := v.(type) {
	case bson.M:
		return doc, true
	case map[string]any:
		return bson.M(doc), true
	case bson.D:
		return doc.Map(), true
	}
	return nil, false
}

// AsDocSlice unwraps a list of embedded documents.
func AsDocSlice(v any) ([]bson.M, bool) {
	switch docs := v.(type) {
	case []bson.M:
		return docs, true
	case bson.A:
		return docSlice(docs)
	case []any:
		return docSlice(docs)
	}
	return nil, false
}

func docSlice(values []any) ([]bson.M, bool) {
	out := make([]bson.M, 0, len(values))
	for _, v := range values {
		doc, ok := AsDoc(v)
		if !ok {
			return nil, false
		}
		out = append(out, doc)
	}
	return out, true
}
