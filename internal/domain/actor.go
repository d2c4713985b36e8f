package domain

import "fmt"

// Role 定义调用方角色类型
type Role string

const (
	RoleCustomer Role = "customer" // 顾客
	RoleStaff    Role = "staff"    // 店员
	RoleAdmin    Role = "admin"    // 店主/管理员
)

// IsValid 判断角色是否合法
func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// Actor 表示发起操作的主体，来自已验证的访问令牌。
// 库存流水、退款记录中的 actor 字段由它生成。
type Actor struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// SystemActor 用于由系统流程（结账、取消）产生的流水
var SystemActor = Actor{Username: "system", Role: RoleAdmin}

// IsStaff 判断是否具备后台权限
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin
}

// String 返回写入流水的操作人标识
func (a Actor) String() string {
	if a.UserID == 0 {
		return a.Username
	}
	return fmt.Sprintf("%s#%d", a.Username, a.UserID)
}
