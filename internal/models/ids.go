package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// NewID returns a fresh ObjectID in its 24-character hex form.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// ValidID reports whether id is a syntactically valid ObjectID hex string.
func ValidID(id string) bool {
	return primitive.IsValidObjectID(id)
}
