package dto

// BadgeRequest — запрос, требующий только бейдж полномочий
type BadgeRequest struct {
	Badge string `json:"badge" binding:"required"`
}

// CreateAuthorityRequest — регистрация ключа бейджа с ролью
type CreateAuthorityRequest struct {
	Badge string `json:"badge" binding:"required"`
	Role  string `json:"role" binding:"required,oneof=admin moderator"`
	Note  string `json:"note"`
}

// CreateBanRequest — создание бана
type CreateBanRequest struct {
	Badge          string `json:"badge" binding:"required"`
	TargetIdentity string `json:"targetIdentity" binding:"required"`
	Reason         string `json:"reason"`
	Duration       string `json:"duration" binding:"required"`
}
