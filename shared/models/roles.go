package models

// Определяем константы для ролей
const (
	RoleAdmin      = "ROLE_ADMIN"
	RoleGameMaster = "ROLE_GM"
	RolePlayer     = "ROLE_PLAYER"
)

// HasRole проверяет, есть ли у пользователя указанная роль.
func HasRole(userRoles []string, targetRole string) bool {
	for _, role := range userRoles {
		if role == targetRole {
			return true
		}
	}
	return false
}
