package domain

// Role — роль пользователя маркетплейса.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleAdmin   Role = "admin"
	RoleCoAdmin Role = "co_admin"
)

// IsAdmin сообщает о полномочиях администратора.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleCoAdmin
}

// User — минимальный профиль пользователя, нужный ядру возвратов.
type User struct {
	ID    string
	Email string
	Name  string
	Role  Role
}

// Product — товар из каталога.
type Product struct {
	ID         string
	SellerID   string
	CategoryID string
	Name       string
}

// Party — отношение пользователя к конкретной заявке.
type Party string

const (
	PartyNone   Party = ""
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
	PartyAdmin  Party = "admin"
)

// RelationTo выводит отношение пользователя к заявке заново при каждом вызове.
func (u User) RelationTo(req ReturnRequest) Party {
	switch {
	case u.Role.IsAdmin():
		return PartyAdmin
	case u.ID != "" && u.ID == req.SellerID:
		return PartySeller
	case u.ID != "" && u.ID == req.BuyerID:
		return PartyBuyer
	default:
		return PartyNone
	}
}
