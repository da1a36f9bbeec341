package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mailroomhq/mailroom-backend/internal/model"
)

// ContactRepositoryInterface defines the recipient reads used by scheduling
// and dispatch. The dispatch worker never materializes a whole book: it pages
// with PageSubscribed, keyed on the contact id as an opaque cursor.
type ContactRepositoryInterface interface {
	GetBook(ctx context.Context, teamID int64, bookID string) (*model.ContactBook, error)
	CountSubscribed(ctx context.Context, bookID string) (int64, error)
	PageSubscribed(ctx context.Context, bookID string, afterCursor *string, limit int) ([]model.Contact, bool, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sqlx.DB
}

// GetBook fetches a contact book scoped to a team; nil when absent.
func (r *ContactRepository) GetBook(ctx context.Context, teamID int64, bookID string) (*model.ContactBook, error) {
	query := `
        SELECT id, team_id, name, created_at, updated_at
        FROM contact_books
        WHERE id = $1 AND team_id = $2
    `
	var b model.ContactBook
	if err := r.DB.GetContext(ctx, &b, query, bookID, teamID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load contact book %s: %w", bookID, err)
	}
	return &b, nil
}

// CountSubscribed counts the recipients a fresh schedule will target.
func (r *ContactRepository) CountSubscribed(ctx context.Context, bookID string) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM contacts WHERE contact_book_id = $1 AND subscribed`
	if err := r.DB.GetContext(ctx, &count, query, bookID); err != nil {
		return 0, fmt.Errorf("failed to count subscribed contacts: %w", err)
	}
	return count, nil
}

// PageSubscribed returns up to limit subscribed contacts strictly after the
// cursor in id order, plus whether more remain. A nil cursor starts from the
// beginning. Contacts that unsubscribe mid-campaign simply stop matching;
// rows already passed by the cursor are never revisited.
func (r *ContactRepository) PageSubscribed(ctx context.Context, bookID string, afterCursor *string, limit int) ([]model.Contact, bool, error) {
	query := `
        SELECT id, contact_book_id, email, first_name, last_name, subscribed,
               properties, created_at, updated_at
        FROM contacts
        WHERE contact_book_id = $1 AND subscribed AND ($2::text IS NULL OR id > $2)
        ORDER BY id ASC
        LIMIT $3
    `
	contacts := []model.Contact{}
	// Fetch one past the batch to learn whether the page exhausts the book.
	err := r.DB.SelectContext(ctx, &contacts, query, bookID, afterCursor, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("failed to page contacts: %w", err)
	}

	hasMore := len(contacts) > limit
	if hasMore {
		contacts = contacts[:limit]
	}
	return contacts, hasMore, nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
