package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ===== Error model (same shape as the library packages) =====

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) && api.Code == CodeInvalidArgument {
		return 400
	}
	return 500
}

const defaultEndpoint = "https://www.googleapis.com/books/v1/volumes"

// SearchResult is one candidate from the catalog search, trimmed to the
// fields the add-book form can prefill.
type SearchResult struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Thumbnail   *string  `json:"thumbnail"`
	Description *string  `json:"description"`
	ISBN        *string  `json:"isbn"`
}

// Service proxies title/author queries to the Google Books volumes API.
type Service struct {
	client   *http.Client
	endpoint string
}

func NewService() *Service {
	return &Service{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: defaultEndpoint,
	}
}

// volume mirrors the slice of the Google Books response we read.
type volume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title      string   `json:"title"`
		Authors    []string `json:"authors"`
		ImageLinks struct {
			Thumbnail      string `json:"thumbnail"`
			SmallThumbnail string `json:"smallThumbnail"`
		} `json:"imageLinks"`
		Description         string `json:"description"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
	} `json:"volumeInfo"`
}

func (s *Service) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalid("Missing search query.")
	}

	u := fmt.Sprintf("%s?q=%s&maxResults=10", s.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, ErrInternal("Problem contacting Google Books. Check your connection and try again.")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ErrInternal("Problem contacting Google Books. Check your connection and try again.")
	}

	var body struct {
		Items []volume `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ErrInternal("Problem contacting Google Books. Check your connection and try again.")
	}

	out := make([]SearchResult, 0, len(body.Items))
	for _, item := range body.Items {
		info := item.VolumeInfo
		r := SearchResult{
			ID:      item.ID,
			Title:   info.Title,
			Authors: info.Authors,
		}
		if r.Title == "" {
			r.Title = "Untitled"
		}
		if r.Authors == nil {
			r.Authors = []string{}
		}
		if t := info.ImageLinks.Thumbnail; t != "" {
			r.Thumbnail = &t
		} else if t := info.ImageLinks.SmallThumbnail; t != "" {
			r.Thumbnail = &t
		}
		if d := info.Description; d != "" {
			r.Description = &d
		}
		// prefer ISBN-13, fall back to ISBN-10
		var isbn10 string
		for _, id := range info.IndustryIdentifiers {
			switch id.Type {
			case "ISBN_13":
				v := id.Identifier
				r.ISBN = &v
			case "ISBN_10":
				isbn10 = id.Identifier
			}
		}
		if r.ISBN == nil && isbn10 != "" {
			r.ISBN = &isbn10
		}
		out = append(out, r)
	}
	return out, nil
}
