package room

import (
	"encoding/json"
	"fmt"
)

// Op — каноническая форма одной операции обновления Person: путь и новое
// значение, либо удаление. Все внешние форматы обновлений (массивы пар
// [path, value], merge-patch объекты) приводятся к этой форме на границе.
type Op struct {
	Path   []string `json:"path"`
	Value  any      `json:"value,omitempty"`
	Remove bool     `json:"remove,omitempty"`
}

// OpsFromPairs разбирает клиентский формат обновлений:
// [[["attributes","hue"], 0.5], [["attributes","note"], null], ...]
// null в качестве значения означает удаление ключа.
func OpsFromPairs(raw json.RawMessage) ([]Op, error) {
	var pairs []json.RawMessage
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("%w: updates must be an array", ErrInvalidUpdate)
	}

	ops := make([]Op, 0, len(pairs))
	for _, pair := range pairs {
		var parts []json.RawMessage
		if err := json.Unmarshal(pair, &parts); err != nil || len(parts) != 2 {
			return nil, fmt.Errorf("%w: each update must be a [path, value] pair", ErrInvalidUpdate)
		}

		var path []string
		if err := json.Unmarshal(parts[0], &path); err != nil || len(path) == 0 {
			return nil, fmt.Errorf("%w: update path must be a non-empty string array", ErrInvalidUpdate)
		}

		var value any
		if err := json.Unmarshal(parts[1], &value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
		}

		if value == nil {
			ops = append(ops, Op{Path: path, Remove: true})
		} else {
			ops = append(ops, Op{Path: path, Value: value})
		}
	}
	return ops, nil
}

// OpsFromMergePatch разворачивает merge-patch объект в список операций:
// вложенные объекты рекурсивно, null означает удаление ключа.
func OpsFromMergePatch(patch map[string]any, prefix ...string) []Op {
	var ops []Op
	for key, value := range patch {
		path := append(append([]string(nil), prefix...), key)
		switch val := value.(type) {
		case nil:
			ops = append(ops, Op{Path: path, Remove: true})
		case map[string]any:
			ops = append(ops, OpsFromMergePatch(val, path...)...)
		default:
			ops = append(ops, Op{Path: path, Value: value})
		}
	}
	return ops
}

// PrefixOps добавляет префикс к пути каждой операции
func PrefixOps(ops []Op, prefix ...string) []Op {
	out := make([]Op, len(ops))
	for i, op := range ops {
		out[i] = Op{
			Path:   append(append([]string(nil), prefix...), op.Path...),
			Value:  op.Value,
			Remove: op.Remove,
		}
	}
	return out
}

// applyOps применяет операции к записи Person. Вызывающий отвечает за то,
// что p — рабочая копия: при ошибке запись может быть изменена частично.
func applyOps(p *Person, ops []Op) error {
	for _, op := range ops {
		if err := applyOp(p, op); err != nil {
			return err
		}
	}
	return nil
}

func applyOp(p *Person, op Op) error {
	if len(op.Path) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidUpdate)
	}

	switch op.Path[0] {
	case "attributes":
		if p.Attributes == nil {
			p.Attributes = map[string]any{}
		}
		return applyMapOp(p.Attributes, op)
	case "avatar":
		if p.Avatar == nil {
			p.Avatar = map[string]any{}
		}
		return applyMapOp(p.Avatar, op)
	case "authority":
		return applyStringOp(&p.Authority, op)
	case "filmstamp":
		return applyStringOp(&p.Filmstamp, op)
	default:
		return fmt.Errorf("%w: unknown path %q", ErrInvalidUpdate, op.Path[0])
	}
}

func applyMapOp(root map[string]any, op Op) error {
	path := op.Path[1:]
	if len(path) == 0 {
		return fmt.Errorf("%w: path %q needs at least one key", ErrInvalidUpdate, op.Path[0])
	}

	target := root
	for _, key := range path[:len(path)-1] {
		next, ok := target[key]
		if !ok {
			child := map[string]any{}
			target[key] = child
			target = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: path element %q is not an object", ErrInvalidUpdate, key)
		}
		target = child
	}

	final := path[len(path)-1]
	if op.Remove {
		delete(target, final)
	} else {
		target[final] = op.Value
	}
	return nil
}

func applyStringOp(field *string, op Op) error {
	if len(op.Path) != 1 {
		return fmt.Errorf("%w: %q is not an object", ErrInvalidUpdate, op.Path[0])
	}
	if op.Remove {
		*field = ""
		return nil
	}
	s, ok := op.Value.(string)
	if !ok {
		return fmt.Errorf("%w: %q must be a string", ErrInvalidUpdate, op.Path[0])
	}
	*field = s
	return nil
}
