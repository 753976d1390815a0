package room

import "time"

// Person — запись об одном участнике комнаты. Идентификатор — base64
// публичный ключ, стабильный между переподключениями. Запись принадлежит
// комнате и мутируется только её fold-обработчиком.
type Person struct {
	Identity   string         `json:"identity"`
	Attributes map[string]any `json:"attributes"`
	Avatar     map[string]any `json:"avatar,omitempty"`
	Authority  string         `json:"authority,omitempty"`
	Filmstamp  string         `json:"filmstamp,omitempty"`
	JoinedAt   time.Time      `json:"joinedAt"`
}

// Clone возвращает глубокую копию записи
func (p *Person) Clone() *Person {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Attributes = cloneMap(p.Attributes)
	clone.Avatar = cloneMap(p.Avatar)
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		// JSON-скаляры неизменяемы
		return v
	}
}
