// internal/model/contact.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Properties holds the free-form contact attributes used for template
// personalization. Stored as JSONB.
type Properties map[string]string

func (p Properties) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func (p *Properties) Scan(src interface{}) error {
	if src == nil {
		*p = Properties{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("properties: cannot scan %T", src)
	}
	return json.Unmarshal(b, p)
}

// ContactBook is a named collection of contacts owned by a team.
type ContactBook struct {
	ID        string    `db:"id" json:"id"`
	TeamID    int64     `db:"team_id" json:"teamId"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Contact is a single recipient inside a contact book. The id doubles as the
// dispatch cursor key: batches page subscribed contacts in ascending id
// order, so the ordering must stay stable while a campaign is in flight.
type Contact struct {
	ID            string     `db:"id" json:"id"`
	ContactBookID string     `db:"contact_book_id" json:"contactBookId"`
	Email         string     `db:"email" json:"email"`
	FirstName     string     `db:"first_name" json:"firstName,omitempty"`
	LastName      string     `db:"last_name" json:"lastName,omitempty"`
	Subscribed    bool       `db:"subscribed" json:"subscribed"`
	Properties    Properties `db:"properties" json:"properties,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}
