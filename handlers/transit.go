package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/russolsen/transit"
)

// Transit+json é o formato do SDK do marketplace. A leitura resolve cache e
// tags pela biblioteca; os valores são normalizados para map[string]any,
// []any e escalares Go. A escrita usa chaves keyword ("~:chave").

const transitContentType = "application/transit+json"

// decodeTransit converte um documento transit em map[string]any, []any,
// string, int64, float64, bool, time.Time ou nil.
func decodeTransit(body []byte) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("transit malformado: %v", r)
		}
	}()
	raw, err := transit.NewDecoder(bytes.NewReader(body)).Decode()
	if err != nil {
		return nil, fmt.Errorf("transit malformado: %w", err)
	}
	return fromTransit(raw), nil
}

func fromTransit(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[transitKey(k)] = fromTransit(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = fromTransit(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = fromTransit(el)
		}
		return out
	case transit.Keyword:
		return string(t)
	case time.Time:
		return t.UTC()
	case fmt.Stringer:
		// uuid e demais tipos com representação textual
		return t.String()
	}
	return v
}

func transitKey(k any) string {
	switch t := fromTransit(k).(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// encodeTransit serializa v (qualquer valor JSON) em transit+json.
func encodeTransit(v any) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := transit.NewEncoder(&buf, false).Encode(toTransit(generic)); err != nil {
		return nil, fmt.Errorf("falha ao codificar transit: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

func toTransit(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[any]any, len(t))
		for k, val := range t {
			out[transit.Keyword(k)] = toTransit(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = toTransit(el)
		}
		return out
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	}
	return v
}
