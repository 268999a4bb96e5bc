package loans

import "time"

// LoanActionRequest is the body of both POST /borrow and POST /return.
type LoanActionRequest struct {
	BookID      string `json:"bookId" binding:"required"`
	ColleagueID string `json:"colleagueId" binding:"required"`
}

// LoanResponse is one ledger row in the history listing.
type LoanResponse struct {
	ID          string     `json:"id"`
	BookID      string     `json:"bookId"`
	ColleagueID string     `json:"colleagueId"`
	BorrowedAt  time.Time  `json:"borrowedAt"`
	ReturnedAt  *time.Time `json:"returnedAt"`
}

func toResponse(l *Loan) LoanResponse {
	resp := LoanResponse{
		ID:          l.ID,
		BookID:      l.BookID,
		ColleagueID: l.ColleagueID,
		BorrowedAt:  l.BorrowedAt,
	}
	if l.ReturnedAt.Valid {
		val := l.ReturnedAt.Time
		resp.ReturnedAt = &val
	}
	return resp
}
