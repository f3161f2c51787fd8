package corral

// PageRequest asks for one page of an ordered result. Cursor is the token
// returned by the previous page, empty for the first page. A Limit below one
// yields an empty page.
type PageRequest struct {
	Limit  int
	Cursor string
}

// Page is one page of results. NextCursor is non-empty exactly when a further
// page exists; feed it back through PageRequest.Cursor to continue.
type Page struct {
	Items      []Document
	NextCursor string
	HasMore    bool
}
