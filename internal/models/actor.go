package models

import "time"

const (
	RoleCompany = "company"
	RoleWorker  = "worker"
)

// Actor is an authenticated party as known to the identity provider.
type Actor struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type JobPost struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func ValidRole(role string) bool {
	return role == RoleCompany || role == RoleWorker
}
