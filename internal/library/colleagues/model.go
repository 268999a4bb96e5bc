package colleagues

import (
	"database/sql"
	"time"
)

// Colleague is one row of the colleagues table.
type Colleague struct {
	ID        string
	Name      string
	Email     string
	AvatarURL sql.NullString
	CreatedAt time.Time
}

func toResponse(c *Colleague) ColleagueResponse {
	resp := ColleagueResponse{
		ID:    c.ID,
		Name:  c.Name,
		Email: c.Email,
	}
	if c.AvatarURL.Valid {
		val := c.AvatarURL.String
		resp.AvatarURL = &val
	}
	return resp
}
