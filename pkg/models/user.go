package models

// Role is a directory role.
type Role string

// Roles known to the directory.
const (
	RoleStudent      Role = "STUDENT"
	RoleTeacher      Role = "TEACHER"
	RoleAdmin        Role = "ADMIN"
	RoleSupportAgent Role = "SUPPORT_AGENT"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin, RoleSupportAgent:
		return true
	default:
		return false
	}
}

// User is a directory entry. The directory itself is maintained outside this
// service; the store only reads it (and imports it for seeding).
type User struct {
	Username  string `json:"username" yaml:"username"`
	Email     string `json:"email" yaml:"email"`
	FullName  string `json:"fullName" yaml:"full_name"`
	Role      Role   `json:"role" yaml:"role"`
	StudentID string `json:"studentId,omitempty" yaml:"student_id"`
	Available bool   `json:"available" yaml:"available"`
}

// IsAgent reports whether the user may claim sessions from the queue.
func (u *User) IsAgent() bool {
	return u.Role == RoleSupportAgent
}

// DisplayName returns the full name, falling back to the username.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
