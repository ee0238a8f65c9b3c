package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned for documents that are not a valid
// collection push.
var ErrMalformedPayload = errors.New("malformed payload")

// Sequence is the optional ordering stamp a push may carry.
type Sequence struct {
	Value int64
	Set   bool
}

// RunPayload is a decoded run document.
type RunPayload struct {
	Snapshot RunSnapshot
	Seq      Sequence
}

// DecodeRunPayload decodes either a bare RunRow array or an object of the
// form {"run": [...], "recaps": [...], "seq": n}. Recaps and seq are optional.
func DecodeRunPayload(data []byte) (RunPayload, error) {
	var p RunPayload
	switch firstByte(data) {
	case '[':
		rows, err := decodeArray[RunRow](data)
		if err != nil {
			return p, err
		}
		p.Snapshot.Rows = rows
	case '{':
		var doc struct {
			Run    *json.RawMessage `json:"run"`
			Recaps *json.RawMessage `json:"recaps"`
			Seq    *int64           `json:"seq"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return p, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if doc.Run == nil {
			return p, fmt.Errorf("%w: missing run", ErrMalformedPayload)
		}
		rows, err := decodeArray[RunRow](*doc.Run)
		if err != nil {
			return p, err
		}
		p.Snapshot.Rows = rows
		if doc.Recaps != nil {
			recaps, err := decodeArray[Recap](*doc.Recaps)
			if err != nil {
				return p, err
			}
			p.Snapshot.Recaps = recaps
			p.Snapshot.HasRecaps = true
		}
		if doc.Seq != nil {
			p.Seq = Sequence{Value: *doc.Seq, Set: true}
		}
	default:
		return p, fmt.Errorf("%w: expected array or object", ErrMalformedPayload)
	}

	if err := checkUniqueIndex(p.Snapshot.Rows); err != nil {
		return p, err
	}
	return p, nil
}

// DecodeRecapPayload decodes a bare Recap array or {"recaps": [...], "seq": n}.
func DecodeRecapPayload(data []byte) ([]Recap, Sequence, error) {
	return decodeCollection[Recap](data, "recaps")
}

// DecodeBlotterPayload decodes a bare BlotterTrade array or
// {"trades": [...], "seq": n}.
func DecodeBlotterPayload(data []byte) ([]BlotterTrade, Sequence, error) {
	return decodeCollection[BlotterTrade](data, "trades")
}

func decodeCollection[T any](data []byte, key string) ([]T, Sequence, error) {
	switch firstByte(data) {
	case '[':
		items, err := decodeArray[T](data)
		return items, Sequence{}, err
	case '{':
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, Sequence{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		raw, ok := doc[key]
		if !ok {
			return nil, Sequence{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, key)
		}
		items, err := decodeArray[T](raw)
		if err != nil {
			return nil, Sequence{}, err
		}
		var seq Sequence
		if rawSeq, ok := doc["seq"]; ok {
			if err := json.Unmarshal(rawSeq, &seq.Value); err != nil {
				return nil, Sequence{}, fmt.Errorf("%w: seq: %v", ErrMalformedPayload, err)
			}
			seq.Set = true
		}
		return items, seq, nil
	default:
		return nil, Sequence{}, fmt.Errorf("%w: expected array or object", ErrMalformedPayload)
	}
}

// decodeArray requires a JSON array; null is rejected.
func decodeArray[T any](data []byte) ([]T, error) {
	if firstByte(data) != '[' {
		return nil, fmt.Errorf("%w: expected array", ErrMalformedPayload)
	}
	items := []T{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return items, nil
}

func checkUniqueIndex(rows []RunRow) error {
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if _, dup := seen[r.IndexName]; dup {
			return fmt.Errorf("%w: duplicate index_name %q", ErrMalformedPayload, r.IndexName)
		}
		seen[r.IndexName] = struct{}{}
	}
	return nil
}

func firstByte(data []byte) byte {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
