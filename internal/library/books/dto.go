package books

// ===== Requests =====

type CreateBookRequest struct {
	Title         string   `json:"title" binding:"required"`
	Author        string   `json:"author" binding:"required"`
	ISBN          *string  `json:"isbn,omitempty"`
	CoverURL      *string  `json:"coverUrl,omitempty"`
	Synopsis      *string  `json:"synopsis,omitempty"`
	YearPublished *int     `json:"yearPublished,omitempty"`
	PageCount     *int     `json:"pageCount,omitempty"`
	Domains       []string `json:"domains,omitempty"`
	OwnerID       *string  `json:"ownerId,omitempty"`
}

// UpdateBookRequest applies partial update semantics: only non-nil fields
// are written.
type UpdateBookRequest struct {
	Synopsis      *string   `json:"synopsis,omitempty"`
	YearPublished *int      `json:"yearPublished,omitempty"`
	PageCount     *int      `json:"pageCount,omitempty"`
	Domains       *[]string `json:"domains,omitempty"`
	OwnerID       *string   `json:"ownerId,omitempty"`
}

func (r UpdateBookRequest) empty() bool {
	return r.Synopsis == nil && r.YearPublished == nil && r.PageCount == nil &&
		r.Domains == nil && r.OwnerID == nil
}
