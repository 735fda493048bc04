package database

import "gorm.io/gorm"

var DB *gorm.DB

// GetDB returns the shared database handle set up by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

// SetDB overrides the shared handle; used by tests with an in-memory database.
func SetDB(db *gorm.DB) {
	DB = db
}
