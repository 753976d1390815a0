package dto

import "encoding/json"

// SetAttributesRequest — обновление атрибутов участника: массив пар
// [path, value], пути указываются внутри attributes
type SetAttributesRequest struct {
	Updates json.RawMessage `json:"updates" binding:"required"`
}

// LeaveRequest — явный выход из комнаты
type LeaveRequest struct {
	Leave bool `json:"leave"`
}

// ArchitectureRequest — живая смена архитектуры комнаты, требует бейдж
type ArchitectureRequest struct {
	Badge            string          `json:"badge" binding:"required"`
	Architecture     json.RawMessage `json:"architecture"`
	ArchitectureName string          `json:"architectureName"`
}
