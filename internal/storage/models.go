// Package storage persists users and scoring results in MongoDB.
package storage

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/spigell/cv-matcher/internal/ai"
)

var ErrNotFound = errors.New("not found")

type UserType string

const (
	Employee UserType = "employee"
	Employer UserType = "employer"
)

func (t UserType) Valid() bool {
	return t == Employee || t == Employer
}

// Collection is the users collection of this type: "employees" or "employers".
func (t UserType) Collection() string {
	return string(t) + "s"
}

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"password"`
	UserType     UserType           `bson:"user_type"`
	FullName     string             `bson:"full_name,omitempty"`
	CompanyName  string             `bson:"company_name,omitempty"`
	CreatedAt    time.Time          `bson:"created_at"`
	Active       bool               `bson:"is_active"`
}

// IDHex is the user id as stored on upload records; empty for anonymous callers.
func (u *User) IDHex() string {
	if u == nil || u.ID.IsZero() {
		return ""
	}
	return u.ID.Hex()
}

type Collection string

const (
	EmployeeUploads Collection = "employee_uploads"
	EmployerUploads Collection = "employer_uploads"
	DemoUploads     Collection = "demo_uploads"
)

// UploadRecord is one scored (CV, JD) pair. BatchID groups the candidates of
// one multi-candidate request and is stored under its historical key.
type UploadRecord struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	BatchID    string             `bson:"employer_id"`
	UserID     string             `bson:"user_id"`
	CVFilename string             `bson:"cv_filename"`
	JDFilename string             `bson:"jd_filename,omitempty"`
	JDText     string             `bson:"jd_text"`
	CVText     string             `bson:"cv_text"`
	Result     ai.MatchResult     `bson:"analysis_result"`
	CreatedAt  time.Time          `bson:"created_at"`
}

// BatchSummary aggregates the upload records sharing one batch id.
type BatchSummary struct {
	BatchID   string    `bson:"_id"`
	JDText    string    `bson:"jd_text"`
	CreatedAt time.Time `bson:"created_at"`
	Count     int       `bson:"count"`
}
